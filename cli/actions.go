package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/splatlod/config"
	"go.viam.com/splatlod/lod"
	"go.viam.com/splatlod/logging"
	"go.viam.com/splatlod/splat"
	"go.viam.com/splatlod/splatfile"
	"go.viam.com/splatlod/testutils"
	"go.viam.com/splatlod/utils"
	"go.viam.com/splatlod/worker"
)

const (
	sceneSphere     = "sphere"
	sceneRandom     = "random"
	sceneCoincident = "coincident"

	defaultTraverseTimeout = time.Minute
)

// GenerateAction is the corresponding Action for 'generate'.
func GenerateAction(c *cli.Context) error {
	logger, _, err := setup(c)
	if err != nil {
		return err
	}
	count := c.Int(flagCount)
	if count <= 0 {
		return errors.Errorf("--%s must be positive, got %d", flagCount, count)
	}
	var cloud *splat.Cloud
	switch scene := c.String(flagScene); scene {
	case sceneSphere:
		cloud = testutils.SphereScene(count, c.Float64(flagRadius))
	case sceneRandom:
		cloud = testutils.RandomScene(count, c.Float64(flagRadius), c.Int64(flagSeed))
	case sceneCoincident:
		cloud = testutils.CoincidentScene(count)
	default:
		return errors.Errorf("unknown scene %q, must be one of %s", scene, strings.Join([]string{sceneSphere, sceneRandom, sceneCoincident}, ", "))
	}

	out := c.Path(flagOut)
	if err := splatfile.WriteFile(out, cloud, nil, splatfile.WriteOptions{SHDegree: c.Int(flagSHDegree)}); err != nil {
		return errors.Wrapf(err, "could not write %s", out)
	}
	logger.Debugw("generated scene", "scene", c.String(flagScene), "splats", cloud.Len())
	printf(c.App.Writer, "Wrote %d splats to %s", cloud.Len(), out)
	return nil
}

// BuildAction is the corresponding Action for 'build'.
func BuildAction(c *cli.Context) error {
	logger, cfg, err := setup(c)
	if err != nil {
		return err
	}
	if c.Args().Len() != 1 {
		return errors.New("build takes exactly one input file")
	}
	in := c.Args().First()
	file, err := splatfile.ReadFile(in)
	if err != nil {
		return errors.Wrapf(err, "could not read %s", in)
	}
	leaves := file.Leaves()
	if file.Header.HasLoD() {
		warningf(c.App.ErrWriter, "%s already has a tree, rebuilding from its %d leaves", in, leaves.Len())
	}

	lodConfig := cfg.LOD
	if c.IsSet(flagBase) {
		lodConfig.Base = c.Float64(flagBase)
	}
	if c.IsSet(flagMinSizeRatio) {
		lodConfig.MinSizeRatio = c.Float64(flagMinSizeRatio)
	}
	if err := lodConfig.Validate("lod"); err != nil {
		return err
	}

	start := time.Now()
	h, err := lod.Build(c.Context, leaves, lodConfig.BuildOptions(logger.Sublogger("builder")))
	if err != nil {
		return errors.Wrap(err, "could not build tree")
	}
	tree, err := lod.NewTree(h)
	if err != nil {
		return errors.Wrap(err, "could not lay out tree")
	}
	logger.Infow("built tree", "splats", leaves.Len(), "nodes", tree.Len(), "elapsed", time.Since(start))

	out := c.Path(flagOut)
	opts := splatfile.WriteOptions{Antialiased: c.Bool(flagAntialiased), SHDegree: c.Int(flagSHDegree)}
	if err := splatfile.WriteFile(out, nil, tree, opts); err != nil {
		return errors.Wrapf(err, "could not write %s", out)
	}
	sum, err := worker.Summarize(tree)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "Wrote tree to %s", out)
	printf(c.App.Writer, "%s", summaryTable(sum, false))
	return nil
}

// InfoAction is the corresponding Action for 'info'.
func InfoAction(c *cli.Context) error {
	logger, _, err := setup(c)
	if err != nil {
		return err
	}
	if c.Args().Len() == 0 {
		return errors.New("info takes at least one file")
	}
	paths := c.Args().Slice()
	stats := make([]os.FileInfo, len(paths))
	files := make([]*splatfile.File, len(paths))
	readers := make([]utils.SimpleFunc, len(paths))
	for i, path := range paths {
		i, path := i, path
		readers[i] = func(_ context.Context) error {
			stat, err := os.Stat(path)
			if err != nil {
				return err
			}
			file, err := splatfile.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "could not read %s", path)
			}
			stats[i], files[i] = stat, file
			return nil
		}
	}
	elapsed, err := utils.RunInParallel(c.Context, readers)
	if err != nil {
		return err
	}
	logger.Debugw("read files", "files", len(paths), "elapsed", elapsed)

	cache := worker.NewTreeCache()
	for i, path := range paths {
		stat, file := stats[i], files[i]
		t := table.NewWriter()
		t.AppendHeader(table.Row{"File", "Size", "Splats", "SH Degree", "Tree", "Antialiased"})
		t.AppendRow(table.Row{
			filepath.Base(path),
			units.HumanSize(float64(stat.Size())),
			file.Header.NumPoints,
			file.Header.SHDegree,
			file.Header.HasLoD(),
			file.Header.Antialiased(),
		})
		printf(c.App.Writer, "%s", t.Render())

		tree := file.Tree()
		if tree == nil {
			continue
		}
		sum, err := cache.Summary(tree)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "%s", summaryTable(sum, c.Bool(flagLevels)))
	}
	return nil
}

// TraverseAction is the corresponding Action for 'traverse'.
func TraverseAction(c *cli.Context) error {
	logger, cfg, err := setup(c)
	if err != nil {
		return err
	}
	if c.Args().Len() > 0 {
		cfg.Trees = nil
		cfg.Instances = nil
		for i, path := range c.Args().Slice() {
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			m := mgl64.Translate3D(float64(i)*c.Float64(flagDistance), 0, -c.Float64(flagDistance))
			cfg.Trees = append(cfg.Trees, config.TreeConfig{Name: name, Source: path})
			cfg.Instances = append(cfg.Instances, config.InstanceConfig{
				Tree:           name,
				Transform:      m[:],
				LodScale:       1,
				OutsideFoveate: 1,
				BehindFoveate:  1,
			})
		}
	}
	if c.IsSet(flagMaxSplats) {
		cfg.Traversal.MaxSplats = c.Int(flagMaxSplats)
	}
	if c.IsSet(flagScreenHeight) {
		cfg.Traversal.ScreenHeight = c.Int(flagScreenHeight)
		cfg.Traversal.PixelScaleLimit = 0
	}
	if c.IsSet(flagMaxSplats) || c.IsSet(flagScreenHeight) || c.Args().Len() > 0 {
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if len(cfg.Instances) == 0 {
		return errors.New("nothing to traverse, pass splat files or configure instances")
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
	defer cancel()

	registry := worker.NewRegistry(logging.RegisterLogger(logger.Sublogger("registry")))
	defer registry.Close()
	if err := registry.LoadConfig(ctx, cfg); err != nil {
		return err
	}

	traverser := worker.NewTraverser(registry, cfg.Traversal.MinInterval, nil, logging.RegisterLogger(logger.Sublogger("traverser")))
	defer traverser.Close()
	traverser.Submit(worker.NewTraversalRequest(cfg))

	var resp worker.TraversalResponse
	select {
	case resp = <-traverser.Results():
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for traversal")
	}
	if resp.Err != nil {
		return resp.Err
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Tree", "Generation", "Nodes", "Selected"})
	for i, inst := range resp.Request.Instances {
		tree, err := registry.Tree(inst.TreeID)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{i, inst.TreeID, resp.Generations[i], tree.Len(), len(resp.Indices[i])})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", fmt.Sprintf("%d / %d", resp.Total, cfg.Traversal.MaxSplats)})
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// VersionAction is the corresponding Action for 'version'.
func VersionAction(c *cli.Context) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("error reading build info")
	}
	printf(c.App.Writer, "splatlod %s (%s)", info.Main.Version, info.GoVersion)
	return nil
}

func summaryTable(sum worker.Summary, levels bool) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Nodes", "Leaves", "Depth", "Mean Radius", "Median Radius", "P95 Radius", "Max Radius", "Mean Opacity"})
	t.AppendRow(table.Row{
		sum.Nodes,
		sum.Leaves,
		sum.Depth,
		fmt.Sprintf("%.4g", sum.MeanRadius),
		fmt.Sprintf("%.4g", sum.MedianRadius),
		fmt.Sprintf("%.4g", sum.P95Radius),
		fmt.Sprintf("%.4g", sum.MaxRadius),
		fmt.Sprintf("%.3f", sum.MeanOpacity),
	})
	out := t.Render()
	if !levels {
		return out
	}
	lt := table.NewWriter()
	lt.AppendHeader(table.Row{"Level", "Nodes"})
	for depth, n := range sum.NodesPerLevel {
		lt.AppendRow(table.Row{depth, n})
	}
	return out + "\n" + lt.Render()
}
