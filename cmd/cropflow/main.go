package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/menta2k/cropflow"
	"github.com/menta2k/cropflow/internal/config"
	"github.com/menta2k/cropflow/internal/utils"
	"github.com/menta2k/cropflow/pkg/processing"
	"github.com/menta2k/cropflow/pkg/session"
	"github.com/menta2k/cropflow/pkg/types"
)

// sessionReport is written next to the crop with -report
type sessionReport struct {
	Photo      string                  `json:"photo"`
	Dimensions types.Dimensions        `json:"dimensions"`
	Display    types.DisplayDimensions `json:"display"`
	Mode       string                  `json:"mode"`
	Region     types.CropRegion        `json:"region"`
	Output     string                  `json:"output"`
}

func main() {
	var in, cfgPath, backend, url, model, outDir, format string
	var viewport, regionFlag, dragFlag string
	var debug, probe, report bool
	var wait time.Duration

	flag.StringVar(&in, "in", "", "input photo path, file:// URI or URL (jpg/png/webp)")
	flag.StringVar(&cfgPath, "config", "", "config file (default ~/.config/cropflow/config.yaml)")
	flag.StringVar(&backend, "backend", "", "detector backend: ollama|llamacpp|contour|text|saliency|none")
	flag.StringVar(&url, "url", "", "vision server URL")
	flag.StringVar(&model, "model", "", "vision model name")
	flag.StringVar(&outDir, "out", "", "output directory (default: next to the photo)")
	flag.StringVar(&format, "ext", "", "output format: jpg|png|webp")
	flag.StringVar(&viewport, "viewport", "", "viewport size WxH in points, e.g. 390x844")
	flag.StringVar(&regionFlag, "region", "", "manual region x,y,w,h in photo pixels")
	flag.StringVar(&dragFlag, "drag", "", "manual region x,y,w,h in display points")
	flag.BoolVar(&debug, "debug", false, "write a region overlay image next to the crop")
	flag.BoolVar(&probe, "probe", false, "ask the vision model to describe the photo and exit")
	flag.BoolVar(&report, "report", false, "write a JSON session report next to the crop")
	flag.DurationVar(&wait, "wait", 2*time.Minute, "maximum time to wait for detection")

	flag.Parse()
	if in == "" {
		log.Fatalf("usage: %s -in photo.jpg|URL [-backend ollama|llamacpp|contour|text|saliency|none] [-region x,y,w,h | -drag x,y,w,h] [-out dir] [-ext jpg|png|webp]", filepath.Base(os.Args[0]))
	}

	if path, err := processing.LocalPath(in); err == nil && !utils.IsImageFile(path) {
		log.Fatalf("Input %s is not an image file", in)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if backend != "" {
		cfg.Detector.Backend = strings.ToLower(backend)
	}
	if url != "" {
		cfg.Detector.URL = url
	}
	if model != "" {
		cfg.Detector.Model = model
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if format != "" {
		cfg.Output.Format = strings.ToLower(format)
	}
	if viewport != "" {
		w, h, err := parseSize(viewport)
		if err != nil {
			log.Fatalf("Invalid -viewport: %v", err)
		}
		cfg.Viewport.Width, cfg.Viewport.Height = w, h
	}

	logger := config.NewLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine, err := cropflow.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	if probe {
		answer, err := engine.Probe(ctx, in)
		if err != nil {
			log.Fatalf("Probe failed: %v", err)
		}
		fmt.Println(answer)
		return
	}

	settled := make(chan struct{}, 1)
	unsubscribe := engine.Session.Subscribe(func(s session.Snapshot) {
		if s.State != types.StateDetecting {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := engine.StartPhoto(ctx, in, engine.Viewport()); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	waitSettled(ctx, engine.Session, settled, wait)

	snap := engine.Session.Snapshot()
	logger.Info("session ready", "photo", snap.PhotoURI,
		"width", snap.Dimensions.Width, "height", snap.Dimensions.Height,
		"mode", snap.Mode, "region", snap.Region)

	if regionFlag != "" || dragFlag != "" {
		if engine.Session.Mode() == types.ModeAuto {
			if _, err := engine.Session.ToggleMode(); err != nil {
				log.Fatalf("Failed to switch to manual mode: %v", err)
			}
		}
		if regionFlag != "" {
			r, err := parseRect(regionFlag)
			if err != nil {
				log.Fatalf("Invalid -region: %v", err)
			}
			if _, err := engine.Session.SetRegion(types.CropRegion(r)); err != nil {
				log.Fatalf("Region rejected: %v", err)
			}
		} else {
			r, err := parseRect(dragFlag)
			if err != nil {
				log.Fatalf("Invalid -drag: %v", err)
			}
			if _, err := engine.Session.UpdateRegionFromDisplay(r); err != nil {
				log.Fatalf("Region rejected: %v", err)
			}
		}
	}

	uri, err := engine.Session.Confirm(ctx)
	if err != nil {
		log.Fatalf("Crop failed: %v", err)
	}

	outPath, err := processing.LocalPath(uri)
	if err != nil {
		log.Fatalf("Unexpected output URI %q: %v", uri, err)
	}
	if info, err := os.Stat(outPath); err == nil {
		fmt.Printf("Saved crop: %s (%s)\n", outPath, utils.FormatFileSize(info.Size()))
	} else {
		fmt.Printf("Saved crop: %s\n", uri)
	}

	base := strings.TrimSuffix(outPath, filepath.Ext(outPath))
	if debug {
		overlay := base + "_overlay.png"
		if err := engine.WriteOverlay(ctx, overlay); err != nil {
			logger.Warn("failed to write overlay", "error", err)
		} else {
			fmt.Printf("Debug overlay: %s\n", overlay)
		}
	}
	if report {
		final := engine.Session.Snapshot()
		data, err := json.MarshalIndent(sessionReport{
			Photo:      final.PhotoURI,
			Dimensions: final.Dimensions,
			Display:    final.Display,
			Mode:       final.Mode.String(),
			Region:     final.Region,
			Output:     uri,
		}, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode report: %v", err)
		}
		path := base + ".json"
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
		if utils.FileExists(path) {
			fmt.Printf("Session report: %s\n", path)
		}
	}
}

func waitSettled(ctx context.Context, s *session.Orchestrator, settled <-chan struct{}, limit time.Duration) {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	for s.State() == types.StateDetecting {
		select {
		case <-settled:
		case <-timer.C:
			// confirming from Detecting discards the late result
			log.Printf("detection still running after %s, using the current region", limit)
			return
		case <-ctx.Done():
			log.Fatalf("Interrupted")
		}
	}
}

func parseSize(s string) (float64, float64, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("expected WxH, got %q", s)
	}
	fw, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
	if err != nil {
		return 0, 0, err
	}
	fh, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err != nil {
		return 0, 0, err
	}
	return fw, fh, nil
}

func parseRect(s string) (types.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.Rect{}, fmt.Errorf("expected x,y,w,h, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return types.Rect{}, err
		}
		v[i] = f
	}
	return types.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
