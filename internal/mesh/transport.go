package mesh

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SaemsCodes/offline-radio/internal/audio"
	"github.com/SaemsCodes/offline-radio/internal/logging"
	"github.com/rs/zerolog"
)

const (
	// probeMagic marks latency probe datagrams; audio blocks carry their own
	// magic inside the block header.
	probeMagic uint32 = 0x4F524150 // "ORAP"

	probeDatagramSize = 12 // magic + nonce
	maxDatagramSize   = 64 * 1024
)

// BlockSender forwards compressed audio blocks to one mesh peer, one block
// per UDP datagram. It implements audio.BlockSink, so it can sit directly
// behind a compression worker.
type BlockSender struct {
	// Atomic fields MUST be first for ARM32 alignment (int64 fields need 8-byte alignment)
	blocksSent int64
	sendErrors int64

	conn   *net.UDPConn
	raddr  *net.UDPAddr
	logger *zerolog.Logger
	mutex  sync.Mutex
}

// NewBlockSender creates a sender to the given "host:port" address.
func NewBlockSender(addr string) (*BlockSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve peer address %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial peer %s: %w", addr, err)
	}

	logger := logging.GetDefaultLogger().With().
		Str("component", "block-sender").
		Str("peer", addr).
		Logger()

	return &BlockSender{
		conn:   conn,
		raddr:  raddr,
		logger: &logger,
	}, nil
}

// WriteBlock implements audio.BlockSink.
func (s *BlockSender) WriteBlock(b *audio.Block) error {
	datagram, err := audio.MarshalBlock(b)
	if err != nil {
		atomic.AddInt64(&s.sendErrors, 1)
		return err
	}

	s.mutex.Lock()
	_, err = s.conn.Write(datagram)
	s.mutex.Unlock()
	if err != nil {
		atomic.AddInt64(&s.sendErrors, 1)
		return fmt.Errorf("send block to %s: %w", s.raddr, err)
	}

	atomic.AddInt64(&s.blocksSent, 1)
	return nil
}

// Stats returns blocks sent and send errors.
func (s *BlockSender) Stats() (sent, errors int64) {
	return atomic.LoadInt64(&s.blocksSent), atomic.LoadInt64(&s.sendErrors)
}

// Close releases the socket.
func (s *BlockSender) Close() error {
	return s.conn.Close()
}

// BlockReceiver listens for block datagrams from mesh peers and exposes them
// as an audio.BlockSource for a playback stream. It also answers latency
// probes, which is what makes neighbor pings measurable.
type BlockReceiver struct {
	// Atomic fields MUST be first for ARM32 alignment (int64 fields need 8-byte alignment)
	blocksReceived int64
	blocksDropped  int64
	parseErrors    int64
	probesAnswered int64

	conn   *net.UDPConn
	blocks chan *audio.Block

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zerolog.Logger

	closeOnce sync.Once
}

// NewBlockReceiver binds a UDP listener on addr ("host:port"; an empty host
// or port 0 are allowed for tests).
func NewBlockReceiver(addr string, queueDepth int) (*BlockReceiver, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	if queueDepth < 1 {
		queueDepth = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.GetDefaultLogger().With().
		Str("component", "block-receiver").
		Str("bind", conn.LocalAddr().String()).
		Logger()

	r := &BlockReceiver{
		conn:   conn,
		blocks: make(chan *audio.Block, queueDepth),
		ctx:    ctx,
		cancel: cancel,
		logger: &logger,
	}

	r.wg.Add(1)
	go r.receiveLoop()
	return r, nil
}

// LocalAddr returns the bound listener address.
func (r *BlockReceiver) LocalAddr() string {
	return r.conn.LocalAddr().String()
}

// ReadBlock implements audio.BlockSource. It returns io.EOF once the receiver
// was closed and the queue drained.
func (r *BlockReceiver) ReadBlock() (*audio.Block, error) {
	block, ok := <-r.blocks
	if !ok {
		return nil, io.EOF
	}
	return block, nil
}

// SessionSource returns a BlockSource view of the receiver that ends with
// io.EOF when ctx is cancelled, without closing the receiver. Playback
// sessions read through this so they can stop while the listener stays bound.
func (r *BlockReceiver) SessionSource(ctx context.Context) audio.BlockSource {
	return &sessionSource{receiver: r, ctx: ctx}
}

type sessionSource struct {
	receiver *BlockReceiver
	ctx      context.Context
}

func (s *sessionSource) ReadBlock() (*audio.Block, error) {
	select {
	case block, ok := <-s.receiver.blocks:
		if !ok {
			return nil, io.EOF
		}
		return block, nil
	case <-s.ctx.Done():
		return nil, io.EOF
	}
}

// Stats returns blocks received, blocks dropped on queue overflow, parse
// errors, and probes answered.
func (r *BlockReceiver) Stats() (received, dropped, parseErrors, probes int64) {
	return atomic.LoadInt64(&r.blocksReceived),
		atomic.LoadInt64(&r.blocksDropped),
		atomic.LoadInt64(&r.parseErrors),
		atomic.LoadInt64(&r.probesAnswered)
}

// Close stops the receive loop. Queued blocks stay readable until drained.
func (r *BlockReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		err = r.conn.Close()
		r.wg.Wait()
		close(r.blocks)
	})
	return err
}

func (r *BlockReceiver) receiveLoop() {
	defer r.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
			}
			r.logger.Warn().Err(err).Msg("udp read failed")
			continue
		}

		if n >= probeDatagramSize && binary.BigEndian.Uint32(buf[:4]) == probeMagic {
			// Echo the probe unchanged so the sender can time the round trip.
			if _, err := r.conn.WriteToUDP(buf[:probeDatagramSize], remote); err != nil {
				r.logger.Warn().Err(err).Str("peer", remote.String()).Msg("probe echo failed")
				continue
			}
			atomic.AddInt64(&r.probesAnswered, 1)
			continue
		}

		block, err := audio.UnmarshalBlock(buf[:n])
		if err != nil {
			atomic.AddInt64(&r.parseErrors, 1)
			r.logger.Warn().Err(err).Str("peer", remote.String()).Msg("malformed block datagram")
			continue
		}

		select {
		case r.blocks <- block:
			atomic.AddInt64(&r.blocksReceived, 1)
		default:
			// Receiver queue full: drop the newest, same policy as the
			// capture relay.
			atomic.AddInt64(&r.blocksDropped, 1)
			r.logger.Warn().Uint32("seq", block.Seq).Msg("receiver queue full, block dropped")
		}
	}
}

// Ping measures the round-trip time to a peer by sending a probe datagram and
// waiting for its echo. Implements Pinger for the table prober.
func Ping(ctx context.Context, addr string) (time.Duration, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return 0, fmt.Errorf("resolve probe address %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return 0, fmt.Errorf("dial probe %s: %w", addr, err)
	}
	defer conn.Close()

	probe := make([]byte, probeDatagramSize)
	binary.BigEndian.PutUint32(probe[:4], probeMagic)
	if _, err := rand.Read(probe[4:]); err != nil {
		return 0, fmt.Errorf("generate probe nonce: %w", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.Write(probe); err != nil {
		return 0, fmt.Errorf("send probe: %w", err)
	}

	reply := make([]byte, probeDatagramSize)
	for {
		n, err := conn.Read(reply)
		if err != nil {
			return 0, fmt.Errorf("probe to %s: %w", addr, err)
		}
		if n == probeDatagramSize && string(reply) == string(probe) {
			return time.Since(start), nil
		}
		// Stray datagram; keep waiting for the matching echo.
	}
}

// PingerFunc adapts a plain function to the Pinger interface.
type PingerFunc func(ctx context.Context, addr string) (time.Duration, error)

func (f PingerFunc) Ping(ctx context.Context, addr string) (time.Duration, error) {
	return f(ctx, addr)
}
