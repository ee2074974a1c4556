package trexshell

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/takehaya/trexshell/pkg/stats"
	"github.com/takehaya/trexshell/pkg/trex"
	"go.uber.org/zap"
	"golang.org/x/text/message"
)

// ShowStats prints the aggregate transmit rate of the active session every
// interval until ctx is done.
func (a *App) ShowStats(ctx context.Context, interval time.Duration) {
	var prevPackets float64
	var prevBytes float64
	p := message.NewPrinter(message.MatchLanguage("en"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := a.Driver.Session()
			if s == nil {
				continue
			}
			snap, err := s.Statistics(ctx, trex.ViewPort)
			if err != nil {
				a.Logger.Warn("failed to read port stats", zap.Error(err))
				continue
			}
			var sumPackets float64
			var sumBytes float64
			for _, o := range snap {
				pkts, _ := o.Get("opackets")
				bytes, _ := o.Get("obytes")
				sumPackets += pkts
				sumBytes += bytes
			}
			deltaPackets := sumPackets - prevPackets
			deltaBytes := sumBytes - prevBytes
			prevPackets = sumPackets
			prevBytes = sumBytes
			secs := interval.Seconds()
			p.Fprintf(a.out, "%d xmit/s, %.2f Mbps\n", int64(deltaPackets/secs), deltaBytes*8/secs/1024/1024)
		case <-ctx.Done():
			return
		}
	}
}

// WriteSummary prints a statistics result for people. CSV is printed as is,
// JSON as one block per object with grouped digits.
func WriteSummary(w io.Writer, res stats.Result) error {
	if res.Format == stats.FormatCSV {
		_, err := fmt.Fprintln(w, res.CSV)
		return err
	}

	p := message.NewPrinter(message.MatchLanguage("en"))
	names := make([]string, 0, len(res.JSON))
	for name := range res.JSON {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := p.Fprintf(w, "%s\n", name); err != nil {
			return err
		}
		metrics := res.JSON[name]
		keys := make([]string, 0, len(metrics))
		for k := range metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			var err error
			switch v := metrics[k].(type) {
			case float64:
				if v == math.Trunc(v) {
					_, err = p.Fprintf(w, "  %-16s %d\n", k, int64(v))
				} else {
					_, err = p.Fprintf(w, "  %-16s %.2f\n", k, v)
				}
			default:
				_, err = p.Fprintf(w, "  %-16s %v\n", k, v)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
