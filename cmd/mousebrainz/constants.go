package main

import "time"

const version = "1.0.0"

const (
	defaultUnitsPerDetent = 10.0             // engine scroll units per wheel detent
	defaultAuthRetry      = 2 * time.Second  // authorization re-check period
	defaultSmoothTickHz   = 60               // physics tick rate
	defaultStatusListen   = "127.0.0.1:3002" // status websocket listener
	defaultStatusPath     = "/ws"
)

// wsVelocityCoalesceWindow is the maximum time window during which scroll
// velocity updates are coalesced (latest-wins) before broadcasting.
const wsVelocityCoalesceWindow = 50 * time.Millisecond
