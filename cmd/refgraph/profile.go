package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/rawbytedev/refgraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type sample struct {
	Val      []string  `refgraph:"1"`
	Mod      []int8    `refgraph:"2"`
	Integers []int16   `refgraph:"3,packed"`
	Float3   []float32 `refgraph:"4,packed"`
	Float6   []float64 `refgraph:"5,packed"`
	Self     *sample   `refgraph:"6,ref"`
}

func newSample() *sample {
	s := &sample{
		Val:      []string{"azerty", "hello", "world", "random"},
		Mod:      []int8{12, 10, 13, 0},
		Integers: []int16{100, 250, 300},
		Float3:   []float32{12.13, 16.23, 75.1},
		Float6:   []float64{100.5, 165.63, 153.5},
	}
	s.Self = s
	return s
}

// profileCommand round-trips a sample graph under the configured model and
// writes CPU and heap profiles of the loop.
func (a *app) profileCommand() *cobra.Command {
	var (
		iterations int
		cpuPath    string
		heapPath   string
	)
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile encoding and decoding of a sample graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if iterations <= 0 {
				return fmt.Errorf("iterations must be positive, got %d", iterations)
			}
			opts, err := a.cfg.ModelOptions(a.log)
			if err != nil {
				return err
			}
			m := refgraph.New(opts...)

			if cpuPath != "" {
				f, err := os.Create(cpuPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := pprof.StartCPUProfile(f); err != nil {
					return err
				}
				defer pprof.StopCPUProfile()
			}
			if heapPath != "" {
				runtime.MemProfileRate = 1
			}

			z := newSample()
			size := 0
			start := time.Now()
			for i := 0; i < iterations; i++ {
				data, err := m.Serialize(z)
				if err != nil {
					return err
				}
				size = len(data)
				res := &sample{}
				if err := m.Deserialize(data, res); err != nil {
					return err
				}
			}
			elapsed := time.Since(start)

			if heapPath != "" {
				f, err := os.Create(heapPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					return err
				}
			}
			a.log.Debug("profile finished", zap.Int("iterations", iterations), zap.Duration("elapsed", elapsed))
			fmt.Fprintf(cmd.OutOrStdout(), "%d round trips of %d bytes in %s (%s each)\n",
				iterations, size, elapsed, elapsed/time.Duration(iterations))
			return nil
		},
	}
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 10000, "Number of round trips")
	cmd.Flags().StringVar(&cpuPath, "cpu", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&heapPath, "heap", "", "Write a heap profile to this file")
	return cmd
}
