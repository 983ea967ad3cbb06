package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"sign-vrtl/internal/service"
	"sign-vrtl/internal/version"
)

const stopTimeout = 30 * time.Second

type command struct {
	flag  *bool
	run   func(exePath string) error
	done  string
	usage string
}

func main() {
	debug := flag.Bool("debug", false, "Run under the debug service runner")
	showVersion := flag.Bool("version", false, "Show version information")

	commands := []command{
		{usage: "install", done: "Service installed and started", run: install},
		{usage: "uninstall", done: "Service uninstalled", run: func(string) error {
			_ = service.StopService(stopTimeout)
			return service.UninstallService()
		}},
		{usage: "start", done: "Service started", run: func(string) error { return service.StartService() }},
		{usage: "stop", done: "Service stopped", run: func(string) error { return service.StopService(stopTimeout) }},
	}
	for i := range commands {
		commands[i].flag = flag.Bool(commands[i].usage, false, commands[i].usage+" the Windows service")
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("Sign VRTL Service %s\n", version.Version)
		return
	}

	exePath, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	// config.yaml is looked up relative to the binary when run by the service manager
	if err := os.Chdir(filepath.Dir(exePath)); err != nil {
		log.Printf("Warning: could not change to executable directory: %v", err)
	}

	for _, cmd := range commands {
		if !*cmd.flag {
			continue
		}
		if err := cmd.run(exePath); err != nil {
			log.Fatalf("%s failed: %v", cmd.usage, err)
		}
		fmt.Println(cmd.done)
		return
	}

	isService, err := service.IsWindowsService()
	if err != nil {
		log.Printf("Warning: could not determine if running as service: %v", err)
	}

	app := service.NewApplication()
	if isService || *debug {
		err = service.RunService(*debug, app)
	} else {
		fmt.Printf("Sign VRTL Service %s, console mode. Press Ctrl+C to stop.\n\n", version.Version)
		flag.PrintDefaults()
		err = app.Run()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func install(exePath string) error {
	var warning *service.InstallWarning
	if err := service.InstallService(exePath); errors.As(err, &warning) {
		log.Printf("Warning: %v", warning)
	} else if err != nil {
		return err
	}
	return service.StartService()
}
