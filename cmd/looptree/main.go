// Command looptree plays audio files as a loop tree from the terminal.
// Each -file argument becomes a leaf entity; with more than one file the
// leaves are stacked under a single composite and the composite plays.
// While playing, the detected microphone pitch is printed once a second.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"looptree"
	"looptree/internal/entity"
	"looptree/internal/source"
)

func main() {
	var files multiFlag
	flag.Var(&files, "file", "audio file to load (wav/mp3/ogg); repeatable")
	var (
		sampleRate = flag.Int("sample-rate", 48000, "engine sample rate (44100 or 48000)")
		seconds    = flag.Float64("seconds", 10, "how long to play before exiting (0 = forever)")
		volume     = flag.Float64("volume", 1.0, "volume for every leaf [0,1]")
		pitchShift = flag.Float64("pitch", 0, "pitch shift in cents [-2400,2400]")
		rate       = flag.Float64("rate", 1.0, "playback rate [1/32,32]")
		record     = flag.Float64("record", 0, "record N seconds from the microphone as an extra take")
		recDir     = flag.String("take-dir", ".", "directory for recorded takes")
		bounce     = flag.String("bounce", "", "render offline to this WAV path instead of playing live")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if len(files) == 0 && *record <= 0 {
		log.Fatal("at least one -file (or -record) is required")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	eng, err := looptree.NewEngine(
		looptree.WithSampleRate(*sampleRate),
		looptree.WithLogger(logger),
		looptree.WithRecordingDir(*recDir),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	root, err := buildTree(eng, files)
	if err != nil {
		log.Fatal(err)
	}

	if *record > 0 {
		root, err = recordTake(eng, root, *record)
		if err != nil {
			log.Fatal(err)
		}
	}

	// Parameter edits go through the store so the change propagator
	// carries them into the graph, exactly as a UI would.
	if err := applyParams(eng.Store(), root, *volume, *pitchShift, *rate); err != nil {
		log.Fatal(err)
	}

	if *bounce != "" {
		raw, err := eng.BounceWAV(root, *seconds)
		if err != nil {
			log.Fatal(err)
		}
		if err := os.WriteFile(*bounce, raw, 0o644); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("rendered %s\n", *bounce)
		return
	}

	if err := eng.Play(root); err != nil {
		log.Fatal(err)
	}
	fmt.Println("playing; ctrl-c to quit")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.Time{}
	if *seconds > 0 {
		deadline = time.Now().Add(time.Duration(*seconds * float64(time.Second)))
	}
	for range ticker.C {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		pos := eng.Position(root)
		if s, ok := eng.LatestPitch(); ok {
			fmt.Printf("pos %6.2fs  mic %s%d %+.0fc (%.1fHz)\n",
				pos, s.NoteName, s.Octave, s.Cents, s.Frequency)
		} else {
			fmt.Printf("pos %6.2fs\n", pos)
		}
	}
	eng.StopAll()
}

// buildTree creates one leaf per file and stacks multiple leaves under
// the first one via promotion. With no files it returns an empty id.
func buildTree(eng *looptree.Engine, files []string) (entity.ID, error) {
	store := eng.Store()
	ids := make([]entity.ID, 0, len(files))
	for _, path := range files {
		dur, err := probeDuration(path)
		if err != nil {
			return "", err
		}
		var id entity.ID
		err = store.Update(func(tx *entity.Tx) error {
			snap, err := tx.CreateLeaf(entity.LeafConfig{
				Name: path, SourceRef: path, StartOffset: 0, StopOffset: dur,
			})
			id = snap.ID
			return err
		})
		if err != nil {
			return "", fmt.Errorf("%s: %w", path, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", nil
	}

	root := ids[0]
	for _, id := range ids[1:] {
		if err := store.Update(func(tx *entity.Tx) error {
			return tx.AddChild(root, id)
		}); err != nil {
			return "", err
		}
	}
	return root, nil
}

// recordTake captures from the microphone for the given duration and
// attaches the take under root (or makes it the root when there is no
// tree yet).
func recordTake(eng *looptree.Engine, root entity.ID, seconds float64) (entity.ID, error) {
	if err := eng.StartRecording(); err != nil {
		return "", err
	}
	fmt.Printf("recording %.1fs...\n", seconds)
	time.Sleep(time.Duration(seconds * float64(time.Second)))
	snap, err := eng.StopRecording(root)
	if err != nil {
		return "", err
	}
	fmt.Printf("recorded %s (%.2fs)\n", snap.Name, snap.Duration())
	if root == "" {
		return snap.ID, nil
	}
	return root, nil
}

func applyParams(store entity.Store, root entity.ID, volume, cents, rate float64) error {
	return store.Update(func(tx *entity.Tx) error {
		h, err := tx.Edit(root)
		if err != nil {
			return err
		}
		if err := h.SetVolume(volume); err != nil {
			return err
		}
		if err := h.SetPitchShift(cents); err != nil {
			return err
		}
		return h.SetPlaybackRate(rate)
	})
}

// probeDuration decodes the file once to size the leaf's offset range.
func probeDuration(path string) (float64, error) {
	clip, err := source.FileLoader{}.Load(path)
	if err != nil {
		return 0, err
	}
	return clip.Duration(), nil
}

type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint(*m) }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
