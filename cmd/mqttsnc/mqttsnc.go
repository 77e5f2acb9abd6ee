package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RoanBrand/mqttsn"
	"github.com/RoanBrand/mqttsn/internal/bridge"
	"github.com/RoanBrand/mqttsn/internal/config"
	"github.com/RoanBrand/mqttsn/internal/model"
	"github.com/RoanBrand/mqttsn/internal/store"
	"github.com/RoanBrand/mqttsn/internal/websocket"
	"github.com/fatih/color"
	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
)

var (
	topicColor = color.New(color.FgCyan, color.Bold)
	timeColor  = color.New(color.FgHiBlack)
)

type program struct {
	conf       config.Config
	configFlag string
	execDir    string

	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) loadConfig() error {
	if p.configFlag != "" {
		if err := p.conf.LoadFromFile(p.configFlag); err != nil {
			return err
		}
		log.Infoln("Using config file:", p.configFlag)
		return nil
	}

	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		toTry := filepath.Join(p.execDir, name)
		if fileExists(toTry) {
			if err := p.conf.LoadFromFile(toTry); err != nil {
				return err
			}
			log.Infoln("Using config file:", toTry)
			return nil
		}
	}

	return fmt.Errorf("no config file specified or found in %s", p.execDir)
}

func (p *program) Start(s service.Service) error {
	if err := p.loadConfig(); err != nil {
		return err
	}
	if err := p.conf.SetupLogging(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel, p.done = cancel, make(chan struct{})

	go func() {
		defer close(p.done)
		if err := p.run(ctx); err != nil {
			log.Fatal(err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	<-p.done
	return nil
}

func (p *program) run(ctx context.Context) error {
	sock, err := websocket.Dial(ctx, p.conf.Gateway.URL, model.NodeID(p.conf.Node))
	if err != nil {
		return err
	}
	defer sock.Close()

	var journal *store.Journal
	if p.conf.Journal.Dir != "" {
		if journal, err = store.Open(p.conf.Journal.Dir); err != nil {
			return err
		}
		defer journal.Close()
	}

	var br *bridge.Bridge
	if p.conf.Bridge.Broker != "" {
		if br, err = bridge.Connect(p.conf.Bridge.Broker, p.conf.Bridge.ClientID, p.conf.Bridge.Prefix); err != nil {
			return err
		}
		defer br.Close()
	}

	onMessage := func(topic, payload string) {
		now := time.Now()
		fmt.Println(timeColor.Sprint(now.Format(time.TimeOnly)), topicColor.Sprint(topic), payload)

		if journal != nil {
			if _, err := journal.Append(topic, payload, now); err != nil {
				log.WithError(err).Error("Failed journaling message")
			}
		}
		if br != nil {
			if err := br.Forward(topic, payload); err != nil {
				log.WithError(err).WithField("topic", topic).Error("Failed forwarding message")
			}
		}
	}

	c := mqttsn.NewClient(sock, model.NodeID(p.conf.Gateway.Node), p.conf.ClientID, onMessage)
	c.ReplyTimeout = p.conf.ReplyTimeout()
	c.PollInterval = p.conf.PollInterval()

	if err = c.Connect(ctx); err != nil {
		return err
	}

	for _, t := range p.conf.Subscribe {
		if err = c.Subscribe(ctx, t); err != nil {
			return err
		}
	}

	if pub := p.conf.Publish; pub.Topic != "" {
		if err = c.PublishString(ctx, pub.Topic, pub.Message, pub.Retain); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"gateway": p.conf.Gateway.URL,
		"node":    p.conf.Node,
		"topics":  len(c.Topics()),
	}).Info("Client running")

	tick := time.NewTicker(c.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			// Fresh context, the run context is already cancelled.
			dCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return c.Disconnect(dCtx)
		case <-sock.Done():
			return sock.Err()
		case <-tick.C:
			c.Loop()
		}
	}
}

// dumpJournal prints journaled messages after sequence number from.
func dumpJournal(dir string, from uint64) error {
	j, err := store.Open(dir)
	if err != nil {
		return err
	}
	defer j.Close()

	return j.Load(from, func(e store.Entry) error {
		fmt.Println(
			timeColor.Sprintf("%6d %s", e.Seq, e.At.Format(time.DateTime)),
			topicColor.Sprint(e.Topic),
			e.Payload,
		)
		return nil
	})
}

func main() {
	svcFlag := flag.String("service", "", "Control the system service.")
	cnfFlag := flag.String("c", "", "Path of config file.")
	journalFlag := flag.String("journal", "", "Print messages journaled in directory and exit.")
	fromFlag := flag.Uint64("from", 0, "With -journal, only print messages after this sequence number.")
	flag.Parse()

	if *journalFlag != "" {
		if err := dumpJournal(*journalFlag, *fromFlag); err != nil {
			log.Fatal(err)
		}
		return
	}

	ePath, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	eDir, _ := filepath.Split(ePath)

	// Set defaults before config override.
	if service.Interactive() {
		log.SetLevel(log.DebugLevel)
	} else {
		f, err := os.OpenFile(filepath.Join(eDir, "mqttsnc.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		log.SetOutput(f)
		color.NoColor = true
	}

	prg := program{configFlag: *cnfFlag, execDir: eDir}
	svcConfig := service.Config{
		Name:        "mqttsnc",
		DisplayName: "mqttsnc MQTT-SN client",
		Description: "MQTT-SN client reaching a gateway over a websocket radio bridge.",
	}

	s, err := service.New(&prg, &svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	if len(*svcFlag) != 0 {
		err := service.Control(s, *svcFlag)
		if err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			log.Fatal(err)
		}
		return
	}

	err = s.Run()
	if err != nil {
		log.Fatal(err)
	}
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
