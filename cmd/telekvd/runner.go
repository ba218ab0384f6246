package main

import (
	"encoding/json"
	"io/ioutil"

	"muzzammil.xyz/jsonc"

	"github.com/telekv/telekv/conf"
	"github.com/telekv/telekv/errors"
	tlog "github.com/telekv/telekv/log"
	"github.com/telekv/telekv/server"
)

type runner struct {
	server *server.Server
}

func (r *runner) run(confFile string, listenAddr string, start bool) error {
	cfg, err := loadConfig(confFile)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddress = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logCfg := tlog.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, File: cfg.LogFile}
	if err := logCfg.Configure(); err != nil {
		return err
	}
	s, err := server.NewServer(*cfg)
	if err != nil {
		return err
	}
	r.server = s
	if start {
		if err := s.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) getServer() *server.Server {
	return r.server
}

func loadConfig(confFile string) (*conf.Config, error) {
	cfg := conf.NewDefaultConfig()
	if confFile == "" {
		return cfg, nil
	}
	b, err := ioutil.ReadFile(confFile)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// jsonc supports comments in JSON
	b = jsonc.ToJSON(b)
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, errors.WithStack(err)
	}
	return cfg, nil
}
