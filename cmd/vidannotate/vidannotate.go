package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vidannotate/server"
	"github.com/cyclopcam/vidannotate/server/config"
)

func main() {
	parser := argparse.NewParser("vidannotate", "Web server that draws object detections onto uploaded videos")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	listen := parser.String("", "listen", &argparse.Options{Help: "Override the listen address (eg :8080)", Default: ""})
	model := parser.String("m", "model", &argparse.Options{Help: "Override the model path (.onnx file, http(s) URL, or ws(s) URL of a remote detector)", Default: ""})
	noCUDA := parser.Flag("", "nocuda", &argparse.Options{Help: "Run inference on the CPU, even if a CUDA device is present", Default: false})
	serveDetector := parser.Flag("", "serve-detector", &argparse.Options{Help: "Also serve the model to remote clients at /api/detector/ws", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *model != "" {
		cfg.ModelPath = *model
	}
	if *noCUDA {
		cfg.DisableCUDA = true
	}
	if *serveDetector {
		cfg.ServeDetector = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}
	logger.Infof("Job database: %v %v", cfg.DB.Driver, cfg.DB.Database)

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	err = srv.ListenHTTP(func() {
		// Tell systemd that we're alive
		daemon.SdNotify(false, daemon.SdNotifyReady)
	})
	if err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Close()
		os.Exit(1)
	}
	<-srv.ShutdownComplete
}
