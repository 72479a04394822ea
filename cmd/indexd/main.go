package main

import (
	"flag"
	"fmt"
	"log"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rexlx/supplyco/internal"
)

func main() {
	flag.Parse()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	var logger *log.Logger
	if *internal.UseSyslog {
		syslogWriter, err := syslog.Dial("udp", *internal.SyslogHost, syslog.LOG_INFO, *internal.SyslogIndex)
		if err != nil {
			fmt.Println("Error connecting to syslog:", err)
			os.Exit(1)
		}
		logger = log.New(syslogWriter, "", log.LstdFlags)
	} else {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}

	c := internal.DefaultConfiguration()
	if *internal.ConfigPath != "" {
		if err := c.PopulateFromJSONFile(*internal.ConfigPath); err != nil {
			fmt.Println("Error reading configuration:", err)
			os.Exit(1)
		}
	}

	incidents := internal.LoadIncidentList(&http.Client{Timeout: 30 * time.Second}, c.IncidentListPath, logger)
	s := internal.NewServer("", *internal.BindAddress, *internal.IndexDir, incidents, logger)

	// The collector rebuilds stores out of band; reopen on a timer so
	// new index files get picked up without a restart.
	ticker := time.NewTicker(time.Duration(c.ReopenInterval) * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Refresh()
			case <-sigs:
				s.Log.Println("Shutting down")
				ticker.Stop()
				os.Exit(0)
			}
		}
	}()

	svr := &http.Server{
		Addr:    s.Details.Address,
		Handler: s.Gateway,
	}
	logger.Printf("indexd %s started at %s (indexes: %s)", s.ID, s.Details.Address, *internal.IndexDir)
	log.Fatal(svr.ListenAndServe())
}
