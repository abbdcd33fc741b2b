package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	visualdict "github.com/menta2k/visual-dictionary"
	"github.com/menta2k/visual-dictionary/internal/config"
	"github.com/menta2k/visual-dictionary/internal/logutil"
	"github.com/menta2k/visual-dictionary/internal/utils"
	"github.com/menta2k/visual-dictionary/pkg/dictionary"
	"github.com/menta2k/visual-dictionary/pkg/imagesource"
	"github.com/menta2k/visual-dictionary/pkg/point"
	"github.com/menta2k/visual-dictionary/pkg/session"
	"github.com/menta2k/visual-dictionary/pkg/types"
)

func main() {
	var configPath, in, xs, ys, from, to, outDir string
	var backend, url, model, addr, store string
	var save, overlay, serve, list, debug, version bool
	var deleteID int64

	flag.StringVar(&configPath, "config", "", "config file (json, yaml or toml); defaults to "+config.GetConfigPath())
	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/webp)")
	flag.StringVar(&xs, "x", "50", "horizontal position in percent of the image width")
	flag.StringVar(&ys, "y", "50", "vertical position in percent of the image height")
	flag.StringVar(&from, "from", "", "source language; empty for a single-language answer")
	flag.StringVar(&to, "to", "", "target language (default from config)")
	flag.StringVar(&outDir, "out", "", "directory for the thumbnail, overlay and model answer")
	flag.BoolVar(&save, "save", false, "save the result to the dictionary")
	flag.BoolVar(&overlay, "overlay", false, "write the image with the point and box drawn on it (requires -out)")

	flag.StringVar(&backend, "backend", "", "backend to use: openai or ollama")
	flag.StringVar(&url, "url", "", "inference server URL")
	flag.StringVar(&model, "model", "", "model name")
	flag.StringVar(&store, "store", "", "dictionary store: file, mysql or memory")

	flag.BoolVar(&serve, "serve", false, "run the HTTP server")
	flag.StringVar(&addr, "addr", "", "HTTP listen address")
	flag.BoolVar(&list, "list", false, "list saved dictionary entries")
	flag.Int64Var(&deleteID, "delete", 0, "delete the dictionary entry with this id")

	flag.BoolVar(&debug, "debug", false, "verbose logging")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		fmt.Println(visualdict.GetVersion())
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	applyFlags(cfg, backend, url, model, store, addr, from, to, debug)
	if !isFlagSet("from") && isFlagSet("to") {
		// An explicit target alone asks for a single-language answer
		cfg.Languages.From = ""
	}

	closer, err := logutil.Setup(cfg.Log.File, cfg.Log.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case list || deleteID != 0:
		// Dictionary maintenance needs no inference backend
		store, err := visualdict.OpenDictionary(ctx, cfg)
		if err != nil {
			log.Fatal(err)
		}
		defer closeStore(store)
		if list {
			err = listEntries(ctx, store)
		} else {
			err = store.Remove(ctx, deleteID)
			if err == nil {
				log.Printf("deleted entry %d", deleteID)
			}
		}
		if err != nil {
			log.Fatal(err)
		}
		return
	case !serve && in == "":
		log.Fatalf("usage: %s -in input.jpg|URL [-x 30 -y 40] [-from Ukrainian] [-to English] [-save] [-out dir] [-overlay] | -serve | -list | -delete id", filepath.Base(os.Args[0]))
	}

	app, err := visualdict.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	if serve {
		if err := app.Server().Run(ctx, cfg.Server.Addr); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := lookup(ctx, app, cfg, in, xs, ys, outDir, save, overlay); err != nil {
		log.Fatal(err)
	}
}

func closeStore(store dictionary.Store) {
	if c, ok := store.(io.Closer); ok {
		c.Close()
	}
}

func applyFlags(cfg *config.Config, backend, url, model, store, addr, from, to string, debug bool) {
	if backend != "" {
		cfg.Backend.Kind = backend
	}
	if url != "" {
		cfg.Backend.URL = url
	}
	if model != "" {
		cfg.Backend.Model = model
	}
	if store != "" {
		cfg.Store.Kind = store
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if isFlagSet("from") {
		cfg.Languages.From = from
	}
	if to != "" {
		cfg.Languages.To = to
	}
	if debug {
		cfg.Log.Debug = true
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func lookup(ctx context.Context, app *visualdict.App, cfg *config.Config, in, xs, ys, outDir string, save, overlay bool) error {
	p, err := point.Parse(xs, ys)
	if err != nil {
		return err
	}
	if !strings.Contains(in, "://") && !strings.HasPrefix(in, "data:") && !utils.IsImageFile(in) {
		log.Printf("Warning: %s does not look like an image file, trying anyway", in)
	}

	langs := types.Languages{From: cfg.Languages.From, To: cfg.Languages.To}
	log.Printf("asking %s about %s (%s)", app.Model(), p, langs.Pair())

	s, out, err := app.Lookup(ctx, in, p, langs)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println(out.Label())
	if out.Dual {
		log.Printf("bbox=%v", out.BBox.Array())
	}

	if outDir != "" {
		if err := writeOutputs(s, out, outDir, overlay); err != nil {
			return err
		}
	} else if overlay {
		log.Printf("Warning: -overlay needs -out, skipping")
	}

	if save {
		entry, err := s.Save(ctx)
		if err != nil {
			return err
		}
		log.Printf("saved entry %d", entry.ID)
	}
	return nil
}

func writeOutputs(s *session.Session, out *session.Outcome, outDir string, overlay bool) error {
	if err := utils.EnsureDir(outDir); err != nil {
		return err
	}
	name := utils.SanitizeFilename(out.Label())

	if out.Thumbnail != nil {
		thumbPath := filepath.Join(outDir, name+"."+utils.ExtensionForMediaType(out.Thumbnail.MediaType()))
		if err := os.WriteFile(thumbPath, out.Thumbnail.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write thumbnail: %w", err)
		}
		log.Printf("wrote %s (%s)", thumbPath, utils.FormatFileSize(int64(out.Thumbnail.Len())))
	}

	if overlay {
		img, err := s.Overlay()
		if err != nil {
			return err
		}
		overlayPath := filepath.Join(outDir, name+"_overlay.png")
		f, err := os.Create(overlayPath)
		if err != nil {
			return err
		}
		if err := imagesource.Encode(f, img, "png", 0); err != nil {
			f.Close()
			return fmt.Errorf("failed to write overlay: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Printf("wrote %s", overlayPath)
	}

	// Save the parsed model answer
	js, _ := json.MarshalIndent(out, "", "  ")
	return os.WriteFile(filepath.Join(outDir, name+".json"), js, 0o644)
}

func listEntries(ctx context.Context, store dictionary.Store) error {
	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No saved words yet.")
		return nil
	}
	for _, e := range entries {
		size := ""
		if e.Image != nil {
			size = utils.FormatFileSize(int64(e.Image.Len()))
		}
		fmt.Printf("%s  %-40s  %-24s  %s  %s\n", strconv.FormatInt(e.ID, 10), e.Text, e.LanguagePair, e.CreatedAt, size)
	}
	return nil
}
