package queue

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// respServer speaks enough RESP2 for a pub/sub client: SUBSCRIBE and PING
// are answered, every other command gets an error reply.
type respServer struct {
	ln net.Listener

	mu    sync.Mutex
	conns []net.Conn
	mute  bool // stop answering PING
}

func newRESPServer() *respServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	s := &respServer{ln: ln}
	go s.accept()
	return s
}

func (s *respServer) Addr() string { return s.ln.Addr().String() }

func (s *respServer) Close() {
	s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *respServer) SetMute(mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = mute
}

// Publish pushes a message to every connection
func (s *respServer) Publish(channel, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		fmt.Fprintf(c, "*3\r\n$7\r\nmessage\r\n$%d\r\n%s\r\n$%d\r\n%s\r\n",
			len(channel), channel, len(payload), payload)
	}
}

func (s *respServer) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *respServer) serve(conn net.Conn) {
	rd := bufio.NewReader(conn)
	for {
		args, err := readCommand(rd)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}

		s.mu.Lock()
		switch strings.ToLower(args[0]) {
		case "subscribe":
			for i, ch := range args[1:] {
				fmt.Fprintf(conn, "*3\r\n$9\r\nsubscribe\r\n$%d\r\n%s\r\n:%d\r\n", len(ch), ch, i+1)
			}
		case "ping":
			if !s.mute {
				fmt.Fprint(conn, "*2\r\n$4\r\npong\r\n$0\r\n\r\n")
			}
		default:
			fmt.Fprintf(conn, "-ERR unknown command '%s'\r\n", args[0])
		}
		s.mu.Unlock()
	}
}

func readCommand(rd *bufio.Reader) ([]string, error) {
	line, err := rd.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "*") {
		return strings.Fields(line), nil
	}

	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hdr, err := rd.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimRight(hdr, "\r\n")[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

var _ = Describe("RedisSubscriber", func() {
	var (
		server     *respServer
		subscriber *RedisSubscriber
		handler    *recordingHandler
		consumer   *Consumer
		states     chan State
		cancel     context.CancelFunc
		finished   chan struct{}
		runErr     error
	)

	BeforeEach(func() {
		server = newRESPServer()

		var err error
		subscriber, err = NewRedisSubscriber(&RedisConfig{
			Addr:                server.Addr(),
			Channel:             "ocr:jobs",
			PollInterval:        50 * time.Millisecond,
			HealthCheckInterval: 200 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())

		handler = &recordingHandler{}
		states = make(chan State, 256)
	})

	JustBeforeEach(func() {
		consumer = NewConsumer(&ConsumerConfig{
			Subscriber:   subscriber,
			Handler:      handler,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
		})
		consumer.onState = func(s State) {
			select {
			case states <- s:
			default:
			}
		}

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		finished = make(chan struct{})
		go func() {
			runErr = consumer.Run(ctx)
			close(finished)
		}()

		Eventually(consumer.State, 2*time.Second).Should(Equal(StateListening))
	})

	AfterEach(func() {
		cancel()
		Eventually(finished, 2*time.Second).Should(BeClosed())
		subscriber.Close()
		server.Close()
	})

	It("should stop promptly when cancelled while the channel is idle", func() {
		Consistently(consumer.State, 300*time.Millisecond).Should(Equal(StateListening))

		cancel()
		Eventually(finished, time.Second).Should(BeClosed())
		Expect(runErr).NotTo(HaveOccurred())
		Expect(consumer.State()).To(Equal(StateDisconnected))
	})

	It("should deliver published payloads", func() {
		server.Publish("ocr:jobs", validJob)

		Eventually(func() []string {
			handler.mu.Lock()
			defer handler.mu.Unlock()
			return append([]string(nil), handler.messages...)
		}, time.Second).Should(Equal([]string{validJob}))
	})

	It("should drop back to disconnected when PINGs go unanswered", func() {
		server.SetMute(true)

		Eventually(states, 2*time.Second).Should(Receive(Equal(StateDisconnected)))
		Expect(consumer.State()).NotTo(Equal(StateListening))
	})
})
