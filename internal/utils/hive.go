/*
Copyright © 2022 SUSE LLC
Copyright © 2023 Kairos authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package utils

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// HiveSession represents the struct that will allow us to edit the offline registry of a mounted image.
// The hives are loaded under HKLM\MB_<HIVE> for the duration of the session.
type HiveSession struct {
	root        string
	runner      Runner
	hives       []string
	activeHives []string
}

func NewHiveSession(root string, runner Runner, hives ...string) *HiveSession {
	return &HiveSession{
		root:        root,
		runner:      runner,
		hives:       hives,
		activeHives: []string{},
	}
}

// HiveKey is where the given offline hive is loaded while a session is active.
func HiveKey(hive string) string {
	return `HKLM\MB_` + strings.ToUpper(hive)
}

// HiveFile is the on-disk file backing hive inside the image root.
func HiveFile(root, hive string) string {
	return filepath.Join(root, "Windows", "System32", "config", strings.ToUpper(hive))
}

// Prepare will load every hive of the session, to be ready when we run the callback.
func (h *HiveSession) Prepare(ctx context.Context) error {
	var err error

	if len(h.activeHives) > 0 {
		return errors.New("there are already loaded hives for this session")
	}

	defer func() {
		if err != nil {
			_ = h.Close(ctx)
		}
	}()

	for _, hive := range h.hives {
		key := HiveKey(hive)
		var res Result
		res, err = h.runner.Run(ctx, "reg", "load", key, HiveFile(h.root, hive))
		if err == nil && res.ExitCode != 0 {
			err = fmt.Errorf("reg load %s exited with %d: %s", key, res.ExitCode, strings.TrimSpace(res.Output))
		}
		if err != nil {
			Log.Err(err).Str("hive", hive).Msg("Loading hive")
			return err
		}
		h.activeHives = append(h.activeHives, key)
	}

	return nil
}

// Close will unload all hives loaded in Prepare on reverse order.
func (h *HiveSession) Close(ctx context.Context) error {
	failures := []string{}
	for len(h.activeHives) > 0 {
		curr := h.activeHives[len(h.activeHives)-1]
		Log.Debug().Str("what", curr).Msg("Unloading hive")
		h.activeHives = h.activeHives[:len(h.activeHives)-1]
		// unloading has to happen even when the build was cancelled, a loaded hive locks the image
		res, err := h.runner.Run(context.WithoutCancel(ctx), "reg", "unload", curr)
		if err != nil || res.ExitCode != 0 {
			Log.Error().Err(err).Str("what", curr).Str("output", res.Output).Msg("Error unloading")
			failures = append(failures, curr)
		}
	}
	if len(failures) > 0 {
		h.activeHives = failures
		return fmt.Errorf("failed closing hive session. Unload failures: %v", failures)
	}
	return nil
}

// RunCallback loads the hives, runs the callback and unloads them again.
func (h *HiveSession) RunCallback(ctx context.Context, callback func() error) (err error) {
	if len(h.activeHives) == 0 {
		err = h.Prepare(ctx)
		if err != nil {
			Log.Err(err).Msg("Can't load hives")
			return err
		}
		defer func() {
			tmpErr := h.Close(ctx)
			if err == nil {
				err = tmpErr
			}
		}()
	}

	return callback()
}

// Active lists the registry keys currently loaded by this session.
func (h *HiveSession) Active() []string {
	return append([]string{}, h.activeHives...)
}
