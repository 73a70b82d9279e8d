// Package main runs streaming and offscreen textures against the in-memory engine and reports
// how many frames reached it.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"go.viam.com/texturebridge/bridge"
	"go.viam.com/texturebridge/engine/fake"
	"go.viam.com/texturebridge/frames"
	"go.viam.com/texturebridge/logging"
	"go.viam.com/texturebridge/mainthread"
	"go.viam.com/texturebridge/offscreen"
	"go.viam.com/texturebridge/utils"
)

const (
	flagTextures    = "textures"
	flagNative      = "native"
	flagDuration    = "duration"
	flagWidth       = "width"
	flagHeight      = "height"
	flagFPS         = "fps"
	flagPollTimeout = "poll-timeout"
	flagTargetSize  = "target-size"
	flagDebug       = "debug"

	benchEngineHandle = 1
)

// The dispatcher must run on the process's first thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	app := &cli.App{
		Name:  "texture-bench",
		Usage: "feed test pattern textures to an in-memory engine and count delivered frames",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: flagTextures, Aliases: []string{"n"}, Value: 4, Usage: "streaming textures to create"},
			&cli.IntFlag{Name: flagNative, Value: 0, Usage: "offscreen native textures to create"},
			&cli.DurationFlag{Name: flagDuration, Aliases: []string{"d"}, Value: 3 * time.Second, Usage: "how long to stream"},
			&cli.IntFlag{Name: flagWidth, Value: 320, Usage: "source frame width"},
			&cli.IntFlag{Name: flagHeight, Value: 240, Usage: "source frame height"},
			&cli.Float64Flag{Name: flagFPS, Value: 30, Usage: "source frame rate, 0 for unpaced"},
			&cli.DurationFlag{Name: flagPollTimeout, Usage: "how long the engine waits for a fresh frame"},
			&cli.IntSliceFlag{Name: flagTargetSize, Usage: "rescale frames to `W,H`"},
			&cli.BoolFlag{Name: flagDebug, Aliases: []string{"vvv"}, Usage: "enable debug logging"},
		},
		Action: runBench,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type benchArgs struct {
	textures    int
	native      int
	duration    time.Duration
	props       prop.Video
	pollTimeout time.Duration
	targetSize  []int
}

func runBench(c *cli.Context) error {
	logger := logging.NewLogger("texture-bench")
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("texture-bench")
	}
	args := benchArgs{
		textures:    c.Int(flagTextures),
		native:      c.Int(flagNative),
		duration:    c.Duration(flagDuration),
		props:       prop.Video{Width: c.Int(flagWidth), Height: c.Int(flagHeight), FrameRate: float32(c.Float64(flagFPS))},
		pollTimeout: c.Duration(flagPollTimeout),
		targetSize:  c.IntSlice(flagTargetSize),
	}
	if args.textures < 0 || args.native < 0 {
		return errors.New("texture counts cannot be negative")
	}

	d := mainthread.New(logger.Sublogger("mainthread"))
	return mainthread.Main(d, func() error {
		return bench(c.Context, d, args, logger)
	})
}

func bench(ctx context.Context, d *mainthread.Dispatcher, args benchArgs, logger logging.Logger) error {
	eng := fake.NewEngine(logger)
	eng.RequireThread(d.OnThread)
	defer eng.Close()
	engineCtx := eng.NewContext(benchEngineHandle, fake.WithHistory(1))

	nativeFPS := args.props.FrameRate
	if nativeFPS <= 0 {
		nativeFPS = 30
	}
	offscreenCtx, err := offscreen.NewContext(
		prop.Video{Width: args.props.Width, Height: args.props.Height, FrameRate: nativeFPS}, eng, nil, logger.Sublogger("offscreen"))
	if err != nil {
		return err
	}
	defer func() {
		if err := offscreenCtx.Close(context.Background()); err != nil {
			logger.Warnw("error closing offscreen context", "error", err)
		}
	}()

	conf := bridge.DefaultConfig()
	conf.PollTimeout = args.pollTimeout
	if len(args.targetSize) == 2 {
		conf.TargetWidth, conf.TargetHeight = args.targetSize[0], args.targetSize[1]
	} else if len(args.targetSize) != 0 {
		return errors.Errorf("--%s takes two values, got %d", flagTargetSize, len(args.targetSize))
	}
	conf = conf.WithEnvOverrides(logger)

	sources := func(ctx context.Context, engineHandle int64) (frames.ImageSource, error) {
		return frames.NewPatternSource(args.props, nil)
	}
	b, err := bridge.New(d, eng, sources, conf, logger.Sublogger("bridge"), bridge.WithNativeContext(offscreenCtx))
	if err != nil {
		return err
	}
	bridge.Init(b)
	defer func() {
		if err := bridge.Shutdown(context.Background()); err != nil {
			logger.Warnw("error shutting down texture bridge", "error", err)
		}
	}()

	var (
		mu        sync.Mutex
		streamIDs []int64
		nativeIDs []int64
	)
	var g errgroup.Group
	for i := 0; i < args.textures; i++ {
		g.Go(func() error {
			id, err := bridge.CreateStreamingTexture(benchEngineHandle)
			if err != nil {
				return err
			}
			mu.Lock()
			streamIDs = append(streamIDs, id)
			mu.Unlock()
			return nil
		})
	}
	for i := 0; i < args.native; i++ {
		g.Go(func() error {
			id, err := bridge.CreateNativeContextTexture(benchEngineHandle)
			if err != nil {
				return err
			}
			mu.Lock()
			nativeIDs = append(nativeIDs, id)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "failed to create textures")
	}

	nativeRenders := renderNative(offscreenCtx, nativeIDs)
	start := time.Now()
	select {
	case <-ctx.Done():
	case <-time.After(args.duration):
	}
	elapsed := time.Since(start)
	nativeRenders.workers.Stop()

	report := table.NewWriter()
	report.SetOutputMirror(os.Stdout)
	report.AppendHeader(table.Row{"Kind", "ID", "Marked", "Rendered", "FPS"})
	var fps stats.Float64Data
	for _, id := range streamIDs {
		tex, ok := engineCtx.Texture(id)
		if !ok {
			continue
		}
		rate := float64(tex.RenderCount()) / elapsed.Seconds()
		fps = append(fps, rate)
		report.AppendRow(table.Row{"stream", id, tex.MarkCount(), tex.RenderCount(), fmt.Sprintf("%.1f", rate)})
	}
	for _, id := range nativeIDs {
		rendered := nativeRenders.count(id)
		rate := float64(rendered) / elapsed.Seconds()
		fps = append(fps, rate)
		report.AppendRow(table.Row{"native", id, "-", rendered, fmt.Sprintf("%.1f", rate)})
	}
	if len(fps) > 0 {
		mean, err := fps.Mean()
		if err != nil {
			return err
		}
		median, err := fps.Median()
		if err != nil {
			return err
		}
		report.AppendFooter(table.Row{"", "", "", "mean / median", fmt.Sprintf("%.1f / %.1f", mean, median)})
	}
	report.Render()
	logger.Infow("bench finished", "streaming", len(streamIDs), "native", len(nativeIDs), "elapsed", elapsed)
	return nil
}

type nativeRenderer struct {
	workers utils.StoppableWorkers
	counts  map[int64]*atomic.Int64
}

func (nr *nativeRenderer) count(id int64) int64 {
	if c, ok := nr.counts[id]; ok {
		return c.Load()
	}
	return 0
}

// renderNative pulls a frame from each offscreen texture whenever it ticks, as an engine would.
func renderNative(offscreenCtx *offscreen.Context, ids []int64) *nativeRenderer {
	nr := &nativeRenderer{workers: utils.NewStoppableWorkers(), counts: map[int64]*atomic.Int64{}}
	for _, id := range ids {
		tex, ok := offscreenCtx.Texture(id)
		if !ok {
			continue
		}
		counter := atomic.NewInt64(0)
		nr.counts[id] = counter
		nr.workers.AddWorkers(func(ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-tex.FrameAvailable():
				}
				if tex.Payload() != nil {
					counter.Inc()
				}
			}
		})
	}
	return nr
}
