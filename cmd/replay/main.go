// Command replay drives the snapshot engine from a captured bar-event
// file (one JSON event per line) instead of live Redis streams, writing
// the resulting records as JSONL. Useful for regression-checking engine
// behavior against a recorded session.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"os"

	"snapsig/config"
	"snapsig/internal/engine"
	"snapsig/internal/model"
	jsonlsink "snapsig/internal/sink/jsonl"
	"snapsig/internal/source"
	"snapsig/internal/tracker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		eventsPath = flag.String("events", "", "bar-event capture file (JSONL), required")
		feedsPath  = flag.String("feeds", "feeds.yaml", "feed definition file")
		outPath    = flag.String("out", "-", "output records file, - for stdout")
	)
	flag.Parse()

	if *eventsPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	feeds, err := config.LoadFeeds(*feedsPath)
	if err != nil {
		log.Fatalf("[replay] feed config: %v", err)
	}

	in, err := os.Open(*eventsPath)
	if err != nil {
		log.Fatalf("[replay] open events: %v", err)
	}
	defer in.Close()

	out := os.Stdout
	if *outPath != "-" {
		out, err = os.Create(*outPath)
		if err != nil {
			log.Fatalf("[replay] create output: %v", err)
		}
	}
	sink := jsonlsink.NewWithOutput(out)

	history := source.NewHistory()
	eng := engine.New(feeds, history, history, tracker.New(), recordWriter{sink}, "replay")

	var processed, skipped int
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev model.BarEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			skipped++
			continue
		}
		history.Append(ev)
		eng.CycleEvent(ev)
		processed++
	}
	if err := sc.Err(); err != nil {
		log.Fatalf("[replay] read events: %v", err)
	}

	sink.Close()
	log.Printf("[replay] done: %d events processed, %d lines skipped", processed, skipped)
}

// recordWriter adapts the JSONL writer to the engine's sink interface.
type recordWriter struct {
	w *jsonlsink.Writer
}

func (rw recordWriter) Emit(r model.Record) {
	rw.w.Write(r)
}
