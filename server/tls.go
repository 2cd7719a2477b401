// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"crypto/rand"
	"crypto/tls"
	"time"
)

// tlsNumTickets is how many session ticket keys tls.Config retains at
// once: the newest one is used to encrypt new tickets, and the rest
// are kept so tickets issued under them can still be decrypted until
// they age out.
const tlsNumTickets = 4

// tlsTicketKeyRotationInterval is how often a fresh key is rotated to
// the front of the set.
const tlsTicketKeyRotationInterval = 12 * time.Hour

// setSessionTicketKeysTestHook lets tests observe (and override) the
// key slice handed to tls.Config.SetSessionTicketKeys without
// depending on wall-clock rotation.
var setSessionTicketKeysTestHook = func(keys [][32]byte) [][32]byte { return keys }

// startTicketKeyRotation seeds cfg with one session ticket key and
// launches a goroutine that rotates in a fresh one on every tick of
// tlsTicketKeyRotationInterval, for as long as the process runs.
func startTicketKeyRotation(cfg *tls.Config) {
	key, err := newTicketKey()
	if err != nil {
		return
	}
	cfg.SetSessionTicketKeys([][32]byte{key})
	timer := time.NewTicker(tlsTicketKeyRotationInterval)
	go standaloneTLSTicketKeyRotation(cfg, timer, nil)
}

// standaloneTLSTicketKeyRotation rotates cfg's session ticket keys on
// every tick, keeping at most tlsNumTickets of the most recent keys so
// that tickets issued under a key retired one rotation ago still
// decrypt. It runs until stop is closed (or forever, if stop is nil).
func standaloneTLSTicketKeyRotation(cfg *tls.Config, timer *time.Ticker, stop chan struct{}) {
	defer timer.Stop()
	var keys [][32]byte
	for {
		select {
		case <-timer.C:
			key, err := newTicketKey()
			if err != nil {
				continue
			}
			keys = append([][32]byte{key}, keys...)
			if len(keys) > tlsNumTickets {
				keys = keys[:tlsNumTickets]
			}
			cfg.SetSessionTicketKeys(setSessionTicketKeysTestHook(keys))
		case <-stop:
			return
		}
	}
}

func newTicketKey() ([32]byte, error) {
	var key [32]byte
	_, err := rand.Read(key[:])
	return key, err
}
