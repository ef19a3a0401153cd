// Reader is a one-shot modbus client to probe a running simulator, e.g. to
// watch a read_hr_always_return_value action replace the stored register
// value.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/goburrow/modbus"
)

func main() {
	url := flag.String("url", "localhost:1502", "simulator address")
	slave := flag.Int("slave", 1, "slave id")
	address := flag.Int("address", 100, "holding register address")
	count := flag.Int("count", 1, "number of reads")
	flag.Parse()

	handler := modbus.NewTCPClientHandler(*url)
	handler.Timeout = 1 * time.Second
	handler.SlaveId = byte(*slave)

	if err := handler.Connect(); err != nil {
		log.Fatal(err)
	}
	defer handler.Close()

	client := modbus.NewClient(handler)
	for i := 0; i < *count; i++ {
		bb, err := client.ReadHoldingRegisters(uint16(*address), 1)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("response: %v\n", bb)
	}
}
