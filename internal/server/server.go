// Package server implements the line-oriented TCP command protocol clients
// use to manage zones and subscribe to zone deltas and raw camera frames.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/nitrogenlogic/zoned/internal/coords"
	"github.com/nitrogenlogic/zoned/internal/zones"
)

// ProtocolVersion is returned by the "ver" command.
const ProtocolVersion = 2

// maxConnections caps concurrent clients, mirroring the reference's fixed
// listen() backlog plus a sane upper bound on long-lived connections.
const maxConnections = 64

// maxInputLine bounds a single client command line; exceeding it terminates
// the connection with an overflow banner rather than growing without limit.
const maxInputLine = 128 * 1024

// FrameSource supplies the most recently published raw frames, and starts
// and stops on-demand video capture. ReadDepth/ReadVideo are for delivering
// a frame to a subscribed client and kick the camera LED; video is rare and
// only runs while at least one client has asked for a frame. PeekVideo is
// for passive inspection (the admin preview endpoint) and does not affect
// the LED or the video stream's on-demand lifecycle.
type FrameSource interface {
	ReadDepth() []byte
	ReadVideo() []byte
	PeekVideo() []byte
	RequestVideo(ctx context.Context) error
	StopVideo(ctx context.Context) error
}

// TiltController reads and requests the camera's motor tilt.
type TiltController interface {
	Tilt() int
	SetTilt(degrees int)
}

// Server accepts client connections and dispatches the command protocol
// against a shared zone list.
type Server struct {
	zl     *zones.ZoneList
	frames FrameSource
	tilt   TiltController
	tables *coords.Tables
	fps    func() int

	ln net.Listener

	register   chan *client
	unregister chan *client
	events     chan event
	mutate     chan func()

	clientsMu sync.Mutex
	clients   map[string]*client

	// videoPending counts outstanding getvideo/getbright requests across
	// all clients. Only touched from the coordinator goroutine (via
	// mutate closures and handleEvent), so it needs no lock of its own.
	videoPending int
}

// New creates a Server. fps reports the current approximate frame rate for
// the "fps" command.
func New(zl *zones.ZoneList, tables *coords.Tables, frames FrameSource, tilt TiltController, fps func() int) *Server {
	return &Server{
		zl:         zl,
		frames:     frames,
		tilt:       tilt,
		tables:     tables,
		fps:        fps,
		register:   make(chan *client),
		unregister: make(chan *client),
		events:     make(chan event, 64),
		mutate:     make(chan func()),
		clients:    make(map[string]*client),
	}
}

type eventKind int

const (
	eventZoneAdded eventKind = iota
	eventZoneRemoved
	eventZoneCleared
	eventDepthTick
	eventVideoTick
)

type event struct {
	kind eventKind
	name string
}

// Serve listens on addr and runs until ctx is canceled. It owns all
// zone-list mutation dispatch and subscriber fan-out on a single goroutine,
// fed by channels from per-connection readers and frame tick signals.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.ln = netutil.LimitListener(ln, maxConnections)
	defer s.ln.Close()

	go s.acceptLoop(ctx)

	s.coordinate(ctx)
	return nil
}

// NotifyDepth signals that a new depth frame has been published, prompting
// delivery to any subscribed clients. Safe to call from any goroutine.
func (s *Server) NotifyDepth() {
	select {
	case s.events <- event{kind: eventDepthTick}:
	default:
	}
}

// NotifyVideo is the video counterpart to NotifyDepth.
func (s *Server) NotifyVideo() {
	select {
	case s.events <- event{kind: eventVideoTick}:
	default:
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("server: accept error: %v", err)
				return
			}
		}
		c := newClient(conn)
		s.register <- c
		go s.serveClient(ctx, c)
	}
}

// coordinate is the single goroutine that owns the subscriber set and all
// fan-out of zone deltas and frame deliveries.
func (s *Server) coordinate(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return

		case c := <-s.register:
			s.clientsMu.Lock()
			s.clients[c.id] = c
			s.clientsMu.Unlock()

		case c := <-s.unregister:
			s.clientsMu.Lock()
			delete(s.clients, c.id)
			s.clientsMu.Unlock()
			c.closeOut()

		case fn := <-s.mutate:
			fn()

		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Server) closeAll() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for _, c := range s.clients {
		c.conn.Close()
		c.closeOut()
	}
}

func (s *Server) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case eventZoneAdded:
		z := s.zl.Find(ev.name)
		if z == nil {
			return
		}
		s.forEachClient(func(c *client) {
			if c.subGlobal {
				c.writeLine("ADD - " + zoneInfoLine(z, true))
			}
		})

	case eventZoneRemoved, eventZoneCleared:
		s.forEachClient(func(c *client) {
			if c.subGlobal {
				c.writeLine(fmt.Sprintf("DEL - %s", ev.name))
			}
		})

	case eventDepthTick:
		s.deliverDepth()
		s.zl.Touch()

	case eventVideoTick:
		s.deliverVideo(ctx)
	}
}

func (s *Server) forEachClient(fn func(*client)) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for _, c := range s.clients {
		fn(c)
	}
}

func (s *Server) deliverDepth() {
	s.forEachClient(func(c *client) {
		if c.subGlobal {
			s.zl.Each(func(z *zones.Zone) {
				if z.LastPop != z.Pop || z.LastOccupied != z.Occupied || z.NewZone {
					c.writeLine("SUB - " + zoneInfoLine(z, z.NewZone))
				}
			})
		}
		if c.subDepth {
			if c.depthLimit > 0 {
				c.depthLimit--
				if c.depthLimit == 0 {
					c.subDepth = false
				}
			}
			frame := s.frames.ReadDepth()
			c.writeLine(fmt.Sprintf("DEPTH - %d bytes of raw data follow newline", len(frame)))
			c.writeRaw(frame)
		}
	})
}

// requestVideo starts the video stream if it isn't already running on
// another client's behalf. Must only be called from the coordinator
// goroutine (via a mutate closure).
func (s *Server) requestVideo(ctx context.Context) {
	s.videoPending++
	if s.videoPending == 1 {
		if err := s.frames.RequestVideo(ctx); err != nil {
			log.Printf("server: failed to start video stream: %v", err)
		}
	}
}

func (s *Server) deliverVideo(ctx context.Context) {
	consumed := 0
	s.forEachClient(func(c *client) {
		if c.subBright {
			s.zl.Each(func(z *zones.Zone) {
				maxPop := z.MaxPop
				if maxPop <= 0 {
					maxPop = 1
				}
				c.writeLine(fmt.Sprintf("BRIGHT - bright=%d name=%q", z.BSum*256/maxPop, z.Name))
			})
			c.subBright = false
			consumed++
		}
		if c.subVideo {
			frame := s.frames.ReadVideo()
			c.writeLine(fmt.Sprintf("VIDEO - %d bytes of video data follow newline", len(frame)))
			c.writeRaw(frame)
			c.subVideo = false
			consumed++
		}
	})

	if consumed == 0 {
		return
	}
	s.videoPending -= consumed
	if s.videoPending <= 0 {
		s.videoPending = 0
		if err := s.frames.StopVideo(ctx); err != nil {
			log.Printf("server: failed to stop video stream: %v", err)
		}
	}
}

func zoneInfoLine(z *zones.Zone, full bool) string {
	var b strings.Builder
	if full {
		fmt.Fprintf(&b, "xmin=%d ymin=%d zmin=%d xmax=%d ymax=%d zmax=%d ",
			int(z.XMin), int(z.YMin), int(z.ZMin), int(z.XMax), int(z.YMax), int(z.ZMax))
		fmt.Fprintf(&b, "px_xmin=%d px_ymin=%d px_zmin=%d px_xmax=%d px_ymax=%d px_zmax=%d ",
			z.PxXMin, z.PxYMin, z.PxZMin, z.PxXMax, z.PxYMax, z.PxZMax)
		fmt.Fprintf(&b, "negate=%d param=%s on_level=%d off_level=%d on_delay=%d off_delay=%d ",
			boolToInt(z.Negate), z.OccupiedParam, z.RisingThreshold, z.FallingThreshold, z.RisingDelay, z.FallingDelay)
	}
	pop := z.Pop
	if pop < 1 {
		pop = 1
	}
	occupied := z.Occupied
	if z.Negate {
		occupied = !occupied
	}
	fmt.Fprintf(&b, "occupied=%d pop=%d maxpop=%d xc=%d yc=%d zc=%d sa=%d name=%q",
		boolToInt(occupied), z.Pop, z.MaxPop, z.XC(), z.YC(), z.ZC(), z.SurfaceArea(), z.Name)
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// serveClient reads command lines from conn, dispatches each against the
// server, and queues the response for the client's dedicated writer.
func (s *Server) serveClient(ctx context.Context, c *client) {
	pumpDone := make(chan struct{})
	defer func() {
		s.unregister <- c
		// Let the writer drain queued replies (such as "OK - Goodbye")
		// before the socket is closed.
		<-pumpDone
		c.conn.Close()
	}()

	go func() {
		c.writePump()
		close(pumpDone)
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxInputLine)
	lineChan := make(chan string)
	errChan := make(chan error, 1)
	go func() {
		defer close(lineChan)
		for scanner.Scan() {
			select {
			case lineChan <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				c.conn.Write([]byte("\n\n\nBuffer overflow.\n\n\n"))
			}
			errChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-errChan:
			return
		case line, ok := <-lineChan:
			if !ok {
				return
			}
			if s.dispatch(ctx, c, line) {
				return
			}
		}
	}
}

// dispatch parses and executes a single command line, returning true if the
// client connection should now be closed.
func (s *Server) dispatch(ctx context.Context, c *client, line string) bool {
	cmd, args := splitCommand(line)
	h, ok := commandTable[cmd]
	if !ok {
		c.writeLine("ERR - Unknown command")
		return false
	}
	return h(ctx, s, c, args)
}

// splitCommand separates a command name from its comma-separated argument
// list, matching the reference's space-then-comma tokenization.
func splitCommand(line string) (string, []string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := parts[0]
	if len(parts) == 1 || parts[1] == "" {
		return cmd, nil
	}
	return cmd, strings.Split(parts[1], ",")
}

type handlerFunc func(ctx context.Context, s *Server, c *client, args []string) (closeConn bool)

var commandTable = map[string]handlerFunc{
	"bye":         byeCmd,
	"ver":         verCmd,
	"help":        helpCmd,
	"addzone":     addzoneCmd,
	"setzone":     setzoneCmd,
	"rmzone":      rmzoneCmd,
	"clear":       clearCmd,
	"zones":       zonesCmd,
	"sub":         subCmd,
	"unsub":       unsubCmd,
	"getdepth":    getdepthCmd,
	"subdepth":    subdepthCmd,
	"unsubdepth":  unsubdepthCmd,
	"getbright":   getbrightCmd,
	"getvideo":    getvideoCmd,
	"tilt":        tiltCmd,
	"fps":         fpsCmd,
	"lut":         lutCmd,
	"sa":          saCmd,
}

var commandHelp = []struct{ name, desc string }{
	{"bye", "Disconnects from the server."},
	{"ver", "Returns the server protocol version."},
	{"help", "Lists available commands."},
	{"addzone", "Adds a new global zone (name, xmin, ymin, zmin, xmax, ymax, zmax)."},
	{"setzone", "Sets a zone's parameters (name, all, xmin, ymin, zmin, xmax, ymax, zmax or name, attr, value)."},
	{"rmzone", "Removes a global zone (name)."},
	{"clear", "Removes all global zones."},
	{"zones", "Lists all global zones."},
	{"sub", "Subscribe to global zone updates."},
	{"unsub", "Unsubscribe from global zone updates."},
	{"getdepth", "Grabs a single 11-bit packed depth image."},
	{"subdepth", "Subscribes to 11-bit packed depth data (count, optional)."},
	{"unsubdepth", "Unsubscribes from 11-bit packed depth data."},
	{"getbright", "Asynchronously returns the approximate brightness within each zone."},
	{"getvideo", "Grabs a single video image."},
	{"tilt", "Sets or returns the camera tilt in degrees from horizontal."},
	{"fps", "Returns the approximate frame rate."},
	{"lut", "Returns the depth look-up table, or looks up an entry in the table."},
	{"sa", "Returns the surface area look-up table, or looks up an entry in the table."},
}

func byeCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	c.writeLine("OK - Goodbye")
	return true
}

func verCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	c.writeLine(fmt.Sprintf("OK - Version %d", ProtocolVersion))
	return false
}

func helpCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	c.writeLine(fmt.Sprintf("OK - %d commands", len(commandHelp)))
	for _, cmd := range commandHelp {
		c.writeLine(fmt.Sprintf("%s - %s", cmd.name, cmd.desc))
	}
	return false
}

func addzoneCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	if len(args) != 7 {
		c.writeLine(fmt.Sprintf("ERR - Expected 7 parameters, got %d", len(args)))
		return false
	}
	name := strings.TrimSpace(args[0])
	vals, err := parseFloats(args[1:7])
	if err != nil {
		c.writeLine("ERR - " + err.Error())
		return false
	}

	reply := make(chan error, 1)
	s.mutate <- func() {
		_, err := s.zl.Add(name, vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
		reply <- err
	}
	if err := <-reply; err != nil {
		c.writeLine(fmt.Sprintf("ERR - Error adding zone %q to zone list: %v", name, err))
		return false
	}

	c.writeLine(fmt.Sprintf("OK - Zone %q was added.", name))
	s.events <- event{kind: eventZoneAdded, name: name}
	return false
}

func setzoneCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	if len(args) != 3 && len(args) != 8 {
		c.writeLine(fmt.Sprintf("ERR - Expected 3 or 8 parameters, got %d", len(args)))
		return false
	}

	name := strings.TrimSpace(args[0])
	attr := strings.TrimSpace(args[1])

	if attr == "all" {
		if len(args) != 8 {
			c.writeLine("ERR - The \"all\" attribute requires 8 parameters.")
			return false
		}
		vals, err := parseFloats(args[2:8])
		if err != nil {
			c.writeLine("ERR - " + err.Error())
			return false
		}
		reply := make(chan error, 1)
		s.mutate <- func() {
			reply <- s.zl.SetBounds(name, vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
		}
		if err := <-reply; err != nil {
			c.writeLine(fmt.Sprintf("ERR - Error updating zone %q: %v", name, err))
			return false
		}
		c.writeLine(fmt.Sprintf("OK - Zone %q was updated.", name))
		return false
	}

	if len(args) != 3 {
		c.writeLine("ERR - Only the \"all\" attribute accepts 8 parameters.  Use 3.")
		return false
	}
	value := strings.TrimSpace(args[2])

	reply := make(chan error, 1)
	s.mutate <- func() {
		reply <- s.zl.SetAttr(name, attr, value)
	}
	if err := <-reply; err != nil {
		c.writeLine(fmt.Sprintf("ERR - Error updating zone %q: %v", name, err))
		return false
	}
	c.writeLine(fmt.Sprintf("OK - Zone %q attribute %q was updated.", name, attr))
	return false
}

func rmzoneCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	name := strings.TrimSpace(strings.Join(args, ","))
	reply := make(chan error, 1)
	s.mutate <- func() {
		reply <- s.zl.Remove(name)
	}
	if err := <-reply; err != nil {
		c.writeLine(fmt.Sprintf("ERR - Zone %q not found.", name))
		return false
	}
	c.writeLine(fmt.Sprintf("OK - Zone %q was removed.", name))
	s.events <- event{kind: eventZoneRemoved, name: name}
	return false
}

func clearCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	s.mutate <- func() {
		s.zl.Clear()
	}
	c.writeLine("OK - All zones were removed.")
	s.events <- event{kind: eventZoneCleared}
	return false
}

func zonesCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	name, _, _, ok := s.zl.PeakZone()
	if !ok {
		name = "[none]"
	}
	c.writeLine(fmt.Sprintf("OK - %d zones - Version %d, %d occupied, peak zone is %q",
		s.zl.Count(), s.zl.GetVersion(), s.zl.OccupiedCount(), name))
	s.zl.Each(func(z *zones.Zone) {
		c.writeLine(zoneInfoLine(z, true))
	})
	return false
}

func subCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	c.subGlobal = true
	c.writeLine("OK - Subscribed to global zone updates")
	s.zl.Each(func(z *zones.Zone) {
		c.writeLine("SUB - " + zoneInfoLine(z, true))
	})
	return false
}

func unsubCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	c.subGlobal = false
	c.writeLine("OK - Unsubscribed from global zone updates")
	return false
}

func getdepthCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	if c.subDepth {
		if c.depthLimit <= 0 {
			c.writeLine("ERR - Already subscribed to depth data")
		} else {
			c.depthLimit++
			c.writeLine(fmt.Sprintf("OK - Incremented depth subscription count to %d", c.depthLimit))
		}
		return false
	}
	c.depthLimit = 1
	c.subDepth = true
	c.writeLine("OK - Requested a single depth frame for delivery as a DEPTH message")
	return false
}

func subdepthCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	if len(args) > 1 {
		c.writeLine("ERR - Too many arguments (expected 0 or 1)")
		return false
	}
	count := -1
	if len(args) == 1 {
		n, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil {
			n = -1
		}
		count = n
		if count < -1 {
			count = -1
		}
	}
	c.depthLimit = count
	c.subDepth = true
	if count > 0 {
		c.writeLine(fmt.Sprintf("OK - %d depth frame(s) will be delivered as DEPTH messages", count))
	} else {
		c.writeLine("OK - depth frames will be delivered as DEPTH messages until unsubscribed")
	}
	return false
}

func unsubdepthCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	if !c.subDepth {
		c.writeLine("ERR - Not subscribed to depth data")
		return false
	}
	c.subDepth = false
	c.depthLimit = -1
	c.writeLine("OK - Unsubscribed from depth data")
	return false
}

func getbrightCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	c.subBright = true
	done := make(chan struct{})
	s.mutate <- func() {
		s.requestVideo(ctx)
		close(done)
	}
	<-done
	c.writeLine("OK - Requested brightness for each zone")
	return false
}

func getvideoCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	c.subVideo = true
	done := make(chan struct{})
	s.mutate <- func() {
		s.requestVideo(ctx)
		close(done)
	}
	<-done
	c.writeLine("OK - Requested delivery of a video frame")
	return false
}

func tiltCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	if len(args) > 1 {
		c.writeLine("ERR - Too many arguments (expected 0 or 1)")
		return false
	}
	if len(args) == 1 {
		deg, _ := strconv.Atoi(strings.TrimSpace(args[0]))
		if deg < -15 {
			deg = -15
		}
		if deg > 15 {
			deg = 15
		}
		s.tilt.SetTilt(deg)
		c.writeLine(fmt.Sprintf("OK - Requested tilt of %d degrees", deg))
		return false
	}
	c.writeLine(fmt.Sprintf("OK - Current tilt is %d degrees", s.tilt.Tilt()))
	return false
}

func fpsCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	c.writeLine(fmt.Sprintf("OK - %d fps", s.fps()))
	return false
}

func lutCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	if len(args) > 1 {
		c.writeLine("ERR - Too many arguments (expected 0 or 1)")
		return false
	}
	if len(args) == 1 {
		d, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil || d < 0 || d >= 2048 {
			c.writeLine(fmt.Sprintf("ERR - Raw distance value %q is out of range (0-2047).", args[0]))
			return false
		}
		c.writeLine(fmt.Sprintf("OK - %d -> %dmm.", d, s.tables.Depth(d)))
		return false
	}
	c.writeLine("OK - 2048 lines follow")
	for i := 0; i < 2048; i++ {
		c.writeLine(strconv.Itoa(s.tables.Depth(i)))
	}
	return false
}

func saCmd(ctx context.Context, s *Server, c *client, args []string) bool {
	if len(args) > 1 {
		c.writeLine("ERR - Too many arguments (expected 0 or 1)")
		return false
	}
	if len(args) == 1 {
		d, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil || d < 0 || d >= 2048 {
			c.writeLine(fmt.Sprintf("ERR - Raw distance value %q is out of range (0-2047).", args[0]))
			return false
		}
		c.writeLine(fmt.Sprintf("OK - %d -> %dmm -> %dmm^2.", d, s.tables.Depth(d), s.tables.Surface(d)))
		return false
	}
	c.writeLine("OK - 2048 lines follow")
	for i := 0; i < 2048; i++ {
		c.writeLine(strconv.Itoa(s.tables.Surface(i)))
	}
	return false
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing argument %q", f)
		}
		out[i] = v
	}
	return out, nil
}

// client is a single connected TCP client and its subscription state. All
// subscription fields are only ever read or written from the coordinator
// goroutine or the client's own serveClient goroutine, never both at once
// for a given client, so no lock is needed on them.
type client struct {
	id   string
	conn net.Conn

	out      chan []byte
	outOnce  sync.Once
	shutdown chan struct{}

	subGlobal bool
	subDepth  bool
	subVideo  bool
	subBright bool
	depthLimit int
}

func newClient(conn net.Conn) *client {
	return &client{
		id:       uuid.NewString(),
		conn:     conn,
		out:      make(chan []byte, 32),
		shutdown: make(chan struct{}),
	}
}

func (c *client) writeLine(s string) {
	c.writeRaw([]byte(s + "\n"))
}

func (c *client) writeRaw(b []byte) {
	select {
	case c.out <- b:
	default:
		// Outbound buffer full; drop rather than block the coordinator.
	}
}

func (c *client) closeOut() {
	c.outOnce.Do(func() { close(c.out) })
}

// writePump drains the client's outbound buffer to the socket. It is the
// only goroutine that writes to conn, so concurrent writeLine calls from the
// coordinator never interleave.
func (c *client) writePump() {
	for b := range c.out {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if _, err := c.conn.Write(b); err != nil {
			return
		}
	}
}
