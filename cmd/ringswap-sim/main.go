package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"time"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	lpnet "github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/urfave/cli/v2"

	"github.com/nmxmxh/ringswap/internal/config"
	"github.com/nmxmxh/ringswap/internal/core"
	"github.com/nmxmxh/ringswap/internal/network"
	"github.com/nmxmxh/ringswap/internal/node"
	"github.com/nmxmxh/ringswap/internal/utils"
)

func main() {
	app := &cli.App{
		Name:  "ringswap-sim",
		Usage: "simulate location swapping on an in-memory libp2p network",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "nodes", Value: 32, Usage: "number of nodes"},
			&cli.IntFlag{Name: "degree", Value: 2, Usage: "ring lattice neighbors on each side"},
			&cli.IntFlag{Name: "shortcuts", Value: 1, Usage: "random long links per node"},
			&cli.IntFlag{Name: "rounds", Value: 20, Usage: "measurement rounds"},
			&cli.DurationFlag{Name: "round", Value: 2 * time.Second, Usage: "time between measurements"},
			&cli.IntFlag{Name: "htl", Value: 3, Usage: "hops-to-live of swap requests"},
			&cli.IntFlag{Name: "garbage", Value: 0, Usage: "malformed messages each node sends per round"},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "node log level"},
		},
		Action: simulate,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type simNode struct {
	*node.Node
}

func simulate(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	level, err := utils.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logger := utils.NewLogger(utils.LoggerConfig{Level: level, Colorize: true, Output: os.Stderr})

	count := c.Int("nodes")
	if count < 3 {
		return fmt.Errorf("need at least 3 nodes, got %d", count)
	}

	fmt.Println("[INFO] Creating mocknet...")
	mn := mocknet.New()
	defer mn.Close()

	nodes := make([]*simNode, count)
	for i := range nodes {
		h, err := mn.GenPeer()
		if err != nil {
			return err
		}
		cfg := config.Default()
		cfg.Swap.Timeout = 5 * time.Second
		cfg.Swap.MinInterval = 100 * time.Millisecond
		cfg.Swap.IntervalSpread = 200 * time.Millisecond
		cfg.Swap.SweepInterval = 5 * time.Second
		cfg.Swap.InitialHTL = c.Int("htl")
		cfg.RateLimit.RequestsPerSecond = 50
		cfg.RateLimit.Burst = 100
		cfg.Node.SnapshotPeriod = 0

		n, err := node.New(h, cfg, nil, logger)
		if err != nil {
			return err
		}
		nodes[i] = &simNode{Node: n}
	}

	fmt.Println("[INFO] Linking ring lattice...")
	if err := linkTopology(mn, nodes, c.Int("degree"), c.Int("shortcuts")); err != nil {
		return err
	}

	for _, n := range nodes {
		if err := n.Start(ctx); err != nil {
			return err
		}
	}
	defer func() {
		for _, n := range nodes {
			_ = n.Stop()
		}
	}()

	fmt.Printf("[INFO] %d nodes running, initial mean link length %.4f\n", count, meanLinkLength(nodes))

	ticker := time.NewTicker(c.Duration("round"))
	defer ticker.Stop()
	for round := 1; round <= c.Int("rounds"); round++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if g := c.Int("garbage"); g > 0 {
			sendGarbage(ctx, nodes, g)
		}
		fmt.Printf("[ROUND %3d] mean link length %.4f  swaps %d  violations %d\n",
			round, meanLinkLength(nodes), totalSwaps(nodes), totalViolations(nodes))
	}
	fmt.Println("[INFO] Simulation complete.")
	return nil
}

// linkTopology connects each node to its degree nearest lattice neighbors on
// each side plus shortcuts random others. Swaps should then shrink the ring
// distance across links toward the lattice's ideal.
func linkTopology(mn mocknet.Mocknet, nodes []*simNode, degree, shortcuts int) error {
	connect := func(a, b *simNode) error {
		if a == b || a.Host.Network().Connectedness(b.Host.ID()) == lpnet.Connected {
			return nil
		}
		if _, err := mn.LinkPeers(a.Host.ID(), b.Host.ID()); err != nil {
			return err
		}
		_, err := mn.ConnectPeers(a.Host.ID(), b.Host.ID())
		return err
	}

	for i, n := range nodes {
		for d := 1; d <= degree; d++ {
			if err := connect(n, nodes[(i+d)%len(nodes)]); err != nil {
				return err
			}
		}
		for s := 0; s < shortcuts; s++ {
			if err := connect(n, nodes[rand.IntN(len(nodes))]); err != nil {
				return err
			}
		}
	}
	return nil
}

func locations(nodes []*simNode) map[peer.ID]float64 {
	out := make(map[peer.ID]float64, len(nodes))
	for _, n := range nodes {
		out[n.Host.ID()] = n.Swap.Location()
	}
	return out
}

// meanLinkLength averages the ring distance between the true locations of
// every connected pair.
func meanLinkLength(nodes []*simNode) float64 {
	locs := locations(nodes)
	var sum float64
	var links int
	for _, n := range nodes {
		for _, p := range n.Host.Network().Peers() {
			loc, ok := locs[p]
			if !ok {
				continue
			}
			sum += core.Distance(locs[n.Host.ID()], loc)
			links++
		}
	}
	if links == 0 {
		return 0
	}
	return sum / float64(links)
}

func totalSwaps(nodes []*simNode) uint64 {
	var total uint64
	for _, n := range nodes {
		total += n.Swap.Metrics().Snapshot().Swaps
	}
	return total
}

func totalViolations(nodes []*simNode) uint64 {
	var total uint64
	for _, n := range nodes {
		total += n.Swap.Metrics().Snapshot().ProtocolViolations
	}
	return total
}

// sendGarbage writes random bytes on the swap protocol to random peers. The
// codec must drop them without disturbing running sessions.
func sendGarbage(ctx context.Context, nodes []*simNode, perNode int) {
	for _, n := range nodes {
		peers := n.Host.Network().Peers()
		if len(peers) == 0 {
			continue
		}
		for k := 0; k < perNode; k++ {
			to := peers[rand.IntN(len(peers))]
			junk := make([]byte, rand.IntN(100)+1)
			for i := range junk {
				junk[i] = byte(rand.IntN(256))
			}
			go writeRaw(ctx, n.Host, to, junk)
		}
	}
}

func writeRaw(ctx context.Context, h libp2p_host.Host, to peer.ID, data []byte) {
	s, err := h.NewStream(ctx, to, network.ProtocolID)
	if err != nil {
		return
	}
	defer s.Close()
	_, _ = s.Write(data)
}
