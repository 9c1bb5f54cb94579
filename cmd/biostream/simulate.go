package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"strconv"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/spf13/cobra"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/source"
	"github.com/xtxerr/biostream/internal/storage/types"
)

// waveform holds the parameters of the synthetic wearable.
type waveform struct {
	Rate        float64 // PG samples per second
	HeartRate   float64 // beats per minute
	Respiration float64 // breaths per minute
	EDA         float64 // microsiemens
	Seed        uint64
}

// simulator produces the OSC traffic of one EmotiBit: PG at Rate, one BI per
// beat, and EDA and HR once per second.
type simulator struct {
	sig       waveform
	namespace string
	rng       *rand.Rand

	nextBeat   float64
	nextSecond float64
}

func newSimulator(sig waveform, namespace string) *simulator {
	return &simulator{
		sig:       sig,
		namespace: namespace,
		rng:       rand.New(rand.NewPCG(sig.Seed, sig.Seed^0x9e3779b97f4a7c15)),
	}
}

// at returns the messages due at t seconds after the start. Calls must use
// non-decreasing t.
func (s *simulator) at(t float64) []*osc.Message {
	var msgs []*osc.Message

	// Heart rate drifts slowly so the baseline and live partitions differ.
	hr := s.sig.HeartRate + 4*math.Sin(2*math.Pi*t/60)

	breath := math.Sin(2 * math.Pi * s.sig.Respiration / 60 * t)
	carrier := math.Sin(2 * math.Pi * hr / 60 * t)
	pg := (1 + 0.3*breath) * carrier
	msgs = append(msgs, s.message(types.ChannelPG, pg))

	if t >= s.nextBeat {
		ibi := 60000/hr + s.rng.NormFloat64()*15
		msgs = append(msgs, s.message(types.ChannelBI, ibi))
		s.nextBeat = t + ibi/1000
	}

	if t >= s.nextSecond {
		eda := s.sig.EDA + 0.02*math.Sin(2*math.Pi*t/90) + s.rng.NormFloat64()*0.002
		msgs = append(msgs,
			s.message(types.ChannelEDA, eda),
			s.message(types.ChannelHR, math.Round(hr)),
		)
		s.nextSecond = math.Floor(t) + 1
	}
	return msgs
}

func (s *simulator) message(c types.Channel, v float64) *osc.Message {
	return osc.NewMessage(source.Address(s.namespace, c), float32(v))
}

func newSimulateCmd() *cobra.Command {
	sig := waveform{
		Rate:        config.DefaultPPGSampleRate,
		HeartRate:   70,
		Respiration: 15,
		EDA:         0.12,
	}
	var (
		addr      string
		namespace string
		duration  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send synthetic EmotiBit OSC traffic to a listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, portStr, err := net.SplitHostPort(addr)
			if err != nil {
				return fmt.Errorf("invalid --addr: %w", err)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid --addr port: %w", err)
			}
			if sig.Rate <= 0 {
				return fmt.Errorf("--rate must be positive")
			}

			client := osc.NewClient(host, port)
			sim := newSimulator(sig, namespace)

			ticker := time.NewTicker(time.Duration(float64(time.Second) / sig.Rate))
			defer ticker.Stop()

			ctx := cmd.Context()
			start := time.Now()
			var sent int
			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-ticker.C:
					elapsed := now.Sub(start)
					if duration > 0 && elapsed >= duration {
						fmt.Fprintf(cmd.OutOrStdout(), "sent %d messages in %s\n", sent, elapsed.Round(time.Millisecond))
						return nil
					}
					for _, m := range sim.at(elapsed.Seconds()) {
						if err := client.Send(m); err != nil {
							return fmt.Errorf("send %s: %w", m.Address, err)
						}
						sent++
					}
				}
			}
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", config.DefaultOSCListen, "listener address host:port")
	f.StringVar(&namespace, "namespace", config.DefaultOSCNamespace, "OSC address namespace")
	f.DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	f.Float64Var(&sig.Rate, "rate", sig.Rate, "PG samples per second")
	f.Float64Var(&sig.HeartRate, "heart-rate", sig.HeartRate, "mean heart rate in beats per minute")
	f.Float64Var(&sig.Respiration, "respiration", sig.Respiration, "respiration rate in breaths per minute")
	f.Float64Var(&sig.EDA, "eda", sig.EDA, "mean electrodermal activity")
	f.Uint64Var(&sig.Seed, "seed", 1, "noise seed")
	return cmd
}
