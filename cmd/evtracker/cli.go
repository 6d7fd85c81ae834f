package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/srec-ev/tracker/internal/config"
	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/logging"
	"github.com/srec-ev/tracker/internal/model"
	"github.com/srec-ev/tracker/internal/storage"
	"github.com/srec-ev/tracker/pkg/core"
)

const cliTimeout = 30 * time.Second

var errUsage = errors.New(`usage: evtracker [serve]
       evtracker version
       evtracker tracks
       evtracker add-track <name> <lat> <lng> [zoom]
       evtracker add-track <name> <lat,lng> [zoom]
       evtracker import-polyline <file> [name]
       evtracker alerts <session-id>`)

// runCLI executes one maintenance command against the configured storage.
func runCLI(args []string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	switch strings.ToLower(args[0]) {
	case "version":
		_, err := fmt.Fprintf(out, "evtracker %s (%s)\n", CurrentVersion, BuildDate)
		return err
	case "tracks":
		return listTracks(ctx, out)
	case "add-track":
		return addTrack(ctx, args[1:], out)
	case "import-polyline":
		return importPolyline(ctx, args[1:], out)
	case "alerts":
		if len(args) < 2 {
			return errUsage
		}
		return exportAlerts(ctx, args[1], out)
	default:
		return errUsage
	}
}

func cliDBLogger() zerolog.Logger {
	return logging.NewZerolog(os.Stderr, viper.GetString("logLevel"), "database")
}

func writeJSONTo(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listTracks(ctx context.Context, out io.Writer) error {
	backend, err := openStorage(config.GetStorageConfig(), cliDBLogger())
	if err != nil {
		return err
	}
	defer backend.Close()

	tracks, err := backend.ListTracks(ctx)
	if err != nil {
		return err
	}
	if tracks == nil {
		tracks = []core.Track{}
	}
	return writeJSONTo(out, tracks)
}

func addTrack(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}
	center, rest, err := trackCenter(args[1:])
	if err != nil {
		return err
	}
	zoom := 17
	if len(rest) > 0 {
		if zoom, err = strconv.Atoi(rest[0]); err != nil {
			return fmt.Errorf("zoom: %w", err)
		}
	}

	backend, err := openStorage(config.GetStorageConfig(), cliDBLogger())
	if err != nil {
		return err
	}
	defer backend.Close()

	t := &core.Track{Name: args[0], Latitude: center.Lat, Longitude: center.Lng, Zoom: zoom}
	if err := backend.AddTrack(ctx, t); err != nil {
		return err
	}
	return writeJSONTo(out, t)
}

// trackCenter reads either "<lat> <lng>" or a single "<lat>,<lng>" argument
// and returns the arguments left over.
func trackCenter(args []string) (core.Position, []string, error) {
	if strings.Contains(args[0], ",") {
		pos, err := geo.PositionFromString(args[0])
		return pos, args[1:], err
	}
	if len(args) < 2 {
		return core.Position{}, nil, errUsage
	}
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return core.Position{}, nil, fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return core.Position{}, nil, fmt.Errorf("longitude: %w", err)
	}
	return core.Position{Lat: lat, Lng: lng}, args[2:], nil
}

func importPolyline(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	name := storage.DefaultPolyline
	if len(args) > 1 {
		name = args[1]
	}
	p, err := geo.LoadPolylineFile(args[0])
	if err != nil {
		return err
	}

	db, err := gormBackend(cliDBLogger())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.gorm.SavePolyline(ctx, name, p); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "stored polyline %q with %d points (%.5f deg)\n", name, len(p), geo.PathLength(p))
	return err
}

func exportAlerts(ctx context.Context, sessionID string, out io.Writer) error {
	db, err := gormBackend(cliDBLogger())
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.gorm.Alerts(ctx, sessionID)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []model.AlertRecord{}
	}
	return writeJSONTo(out, rows)
}
