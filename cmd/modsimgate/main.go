// Modsimgate is the desktop variant of the simulator front end: the
// configured slaves with connect buttons on the left, the request log on the
// right.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/rwirdemann/modsim"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

type slaveEntry struct {
	url       string
	address   int
	actions   int
	connected bool
	server    *modsim.ModbusServer
}

var configPath string

func main() {
	flag.StringVar(&configPath, "config", "", "path to the configuration directory")
	flag.Parse()
	if configPath == "" {
		flag.PrintDefaults()
		os.Exit(0)
	}

	os.Exit(run())
}

func run() int {
	config, err := modsim.LoadConfig(configPath)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}

	logArea := widget.NewTextGrid()

	registry := modsim.NewRegistry()
	var data []*slaveEntry
	for _, serial := range config.Serials {
		ms, err := modsim.NewConfiguredServer(serial, registry, logArea)
		if err != nil {
			slog.Error(err.Error())
			return 1
		}
		if err := ms.Start(); err != nil {
			slog.Error(err.Error())
			return 1
		}

		for _, slave := range serial.Slaves {
			data = append(data, &slaveEntry{
				url:     serial.Url,
				address: slave.Address,
				actions: len(slave.Actions),
				server:  ms,
			})
		}
	}

	myApp := app.New()
	myWindow := myApp.NewWindow("ModsimGate")

	logScrollContainer := container.NewScroll(logArea)
	logScrollContainer.SetMinSize(fyne.NewSize(400, 600))

	// Helper function to append text and auto-scroll to bottom
	appendAndScroll := func(text string) {
		logArea.Append(text)
		logScrollContainer.ScrollToBottom()
	}

	list := widget.NewList(
		func() int {
			return len(data)
		},
		func() fyne.CanvasObject {
			// Create a template with url, address, action count and a button
			url := widget.NewLabel("template")
			address := widget.NewLabel("template")
			actions := widget.NewLabel("template")
			button := widget.NewButton("Connect", func() {})
			button.Importance = widget.DangerImportance
			return container.NewHBox(url, address, actions, button)
		},
		func(i widget.ListItemID, o fyne.CanvasObject) {
			cont := o.(*fyne.Container)
			urlLabel := cont.Objects[0].(*widget.Label)
			addressLabel := cont.Objects[1].(*widget.Label)
			actionsLabel := cont.Objects[2].(*widget.Label)
			button := cont.Objects[3].(*widget.Button)

			entry := data[i]
			urlLabel.SetText(entry.url)
			addressLabel.SetText(strconv.Itoa(entry.address))
			actionsLabel.SetText(fmt.Sprintf("%d actions", entry.actions))

			// Update button appearance based on connection state
			updateButton := func() {
				if entry.connected {
					button.SetText("Connected")
					button.Importance = widget.SuccessImportance // Green
				} else {
					button.SetText("Connect")
					button.Importance = widget.DangerImportance // Red
				}
				button.Refresh()
			}

			updateButton() // Initial state

			button.OnTapped = func() {
				entry.connected = !entry.connected
				updateButton()
				ts := time.Now().Format(time.DateTime)
				if entry.connected {
					entry.server.Connect(entry.address)
					appendAndScroll(fmt.Sprintf("%s %s:%d: connected", ts, entry.url, entry.address))
				} else {
					entry.server.Disconnect(entry.address)
					appendAndScroll(fmt.Sprintf("%s %s:%d: disconnected", ts, entry.url, entry.address))
				}
			}
		})

	rightSide := container.NewVBox()
	rightSide.Add(logScrollContainer)

	// Main split container with list on left (1/3) and log on right (2/3)
	split := container.NewHSplit(list, rightSide)
	split.SetOffset(0.33)

	myWindow.Resize(fyne.NewSize(900, 600))
	myWindow.SetContent(split)
	myWindow.ShowAndRun()
	return 0
}
