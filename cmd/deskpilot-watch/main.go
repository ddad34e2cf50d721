package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"deskpilot/internal/client"
	"deskpilot/internal/wire"
)

func main() {
	app := &cli.App{
		Name:  "deskpilot-watch",
		Usage: "submit a prompt and watch the automation session from a terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "server websocket endpoint",
				Value: "ws://localhost:8420/ws",
			},
			&cli.StringFlag{
				Name:     "message",
				Usage:    "prompt text to submit",
				Required: true,
			},
			&cli.Int64Flag{
				Name:     "prompt-id",
				Usage:    "prompt id to bind the session to",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "follow-up",
				Usage: "send as a follow-up to the active prompt instead of a new one",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "file the latest screenshot is written to",
				Value: "screenshot.png",
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "reconnect attempts before giving up",
				Value: client.DefaultMaxRetries,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	view := client.NewProgressView()
	r := client.NewReconnector(client.ReconnectorConfig{
		URL:        c.String("url"),
		MaxRetries: c.Int("retries"),
		Handler:    &fileHandler{view: view, out: c.String("out")},
	})

	cmd := wire.Command{
		Message:     c.String("message"),
		IsNewPrompt: !c.Bool("follow-up"),
		PromptID:    c.Int64("prompt-id"),
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- r.Run(ctx, cmd)
	}()

	// Enter accepts the result and ends the session.
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
			if err := r.Accept(context.Background()); err != nil {
				log.Printf("accept: %v", err)
			}
		}
	}()

	fmt.Println("watching session; press Enter to accept the result")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-runErr:
			render(view.Snapshot(), c.String("out"))
			return err
		case <-ticker.C:
			render(view.Snapshot(), c.String("out"))
		}
	}
}

func render(snap client.ProgressSnapshot, out string) {
	marks := map[client.StepState]string{
		client.StepPending: " ",
		client.StepDone:    "x",
		client.StepFailed:  "!",
	}
	fmt.Print("\033[2J\033[H")
	for i, label := range snap.StepLabels {
		fmt.Printf("[%s] %s\n", marks[snap.Steps[i]], label)
	}
	if snap.LastMessage != "" {
		fmt.Printf("\n%s\n", snap.LastMessage)
	}
	if snap.HasImage {
		fmt.Printf("latest screenshot (%s) saved to %s\n", snap.ImageAt.Format(time.TimeOnly), out)
	}
	switch {
	case snap.Busy:
		fmt.Println("server is busy with another prompt")
	case snap.Accepted:
		fmt.Println("result accepted")
	}
}

// fileHandler feeds the progress view and persists each screenshot as it
// replaces the previous one.
type fileHandler struct {
	view *client.ProgressView
	out  string
}

func (h *fileHandler) OnStatus(st *wire.Status) {
	h.view.OnStatus(st)
}

func (h *fileHandler) OnScreenshot(header *wire.ScreenshotHeader, image []byte) {
	h.view.OnScreenshot(header, image)
	if err := os.WriteFile(h.out, image, 0o644); err != nil {
		log.Printf("write screenshot: %v", err)
	}
}
