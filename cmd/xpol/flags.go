package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// SuperviseFlags override [supervisor] settings when set.
type SuperviseFlags struct {
	Exec    string
	URL     string
	File    string
	Tick    time.Duration
	PidFile string
}

type ServeFlags struct {
	Listen    string
	DSN       string
	Daemonize bool
	PidFile   string
	LogFile   string
}

// ExchangeFlags drive the one-shot fetch and submit commands.
type ExchangeFlags struct {
	URL     string
	File    string
	Timeout time.Duration
}

// StoreFlags drive count and purge against a store DSN directly.
type StoreFlags struct {
	DSN string
}

type RequestFlags struct {
	PidFile string
}
