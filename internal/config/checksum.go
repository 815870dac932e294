package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type scenarioChecksumEntry struct {
	Key      string `json:"key"`
	Index    int    `json:"index"`
	Class    string `json:"class"`
	Nice     int    `json:"nice"`
	RTPrio   int    `json:"rt_prio,omitempty"`
	CPUs     string `json:"cpus,omitempty"`
	StartMS  int    `json:"start_ms"`
	RunUS    int    `json:"run_us"`
	SleepUS  int    `json:"sleep_us"`
	Children int    `json:"children,omitempty"`
	Threads  bool   `json:"threads,omitempty"`
}

type scenarioChecksumPayload struct {
	DurationMS int                     `json:"duration_ms"`
	TickUS     int                     `json:"tick_us"`
	Seed       int64                   `json:"seed"`
	Tasks      []scenarioChecksumEntry `json:"tasks"`
}

// ScenarioChecksum returns a short, stable checksum identifying the
// effective workload (the concrete task schedule that was executed),
// independent of placement knobs and recording settings.
//
// It computes MD5 over a canonical JSON representation and returns the
// first 6 hex characters.
func ScenarioChecksum(cfg *ScenarioConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	entries := make([]scenarioChecksumEntry, 0, len(cfg.Tasks))
	for key, t := range cfg.Tasks {
		entry := scenarioChecksumEntry{
			Key:     key,
			Index:   t.Index,
			Class:   t.Class,
			Nice:    t.Nice,
			RTPrio:  t.RTPrio,
			CPUs:    t.CPUs,
			StartMS: t.StartMS,
			RunUS:   t.Behavior.RunUS,
			SleepUS: t.Behavior.SleepUS,
		}
		if t.Fork != nil {
			entry.Children = t.Fork.Children
			entry.Threads = t.Fork.Threads
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Index != entries[j].Index {
			return entries[i].Index < entries[j].Index
		}
		return entries[i].Key < entries[j].Key
	})

	payload := scenarioChecksumPayload{
		DurationMS: cfg.Scenario.DurationMS,
		TickUS:     cfg.Scenario.TickUS,
		Seed:       cfg.Scenario.Seed,
		Tasks:      entries,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
