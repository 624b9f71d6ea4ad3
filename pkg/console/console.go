// Package console is the terminal front end of the capture agent. It maps
// line commands onto a capture session and prints display updates and
// alerts.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/camera"
	"github.com/T3-Labs/emotion-capture/pkg/capture"
	"github.com/T3-Labs/emotion-capture/pkg/logger"
	"github.com/T3-Labs/emotion-capture/pkg/submission"
)

// Controller is the part of capture.Session the console drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Capturing() bool
	Controls() capture.Controls
	Display() capture.Display
	CameraHealth() camera.Health
	Interval() time.Duration
	SetUserID(userID string)
	UserID() string
	SetRole(role string) error
	Role() submission.Role
	SetIntervalInput(input string)
	IntervalInput() string
}

type Options struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	Prompt string

	// ConfirmAlerts makes Alert wait for an input line before returning.
	ConfirmAlerts bool
	// AutoStart starts capture before the first command is read.
	AutoStart bool
}

// Console reads commands from In. Alerts are written to Err; with
// ConfirmAlerts they block until the next input line, which is consumed as
// the acknowledgement. Alert must only be called from inside Run, which is
// where the session raises it.
type Console struct {
	opts       Options
	controller Controller

	outMu sync.Mutex
	lines chan string
}

func New(opts Options) *Console {
	return &Console{
		opts:  opts,
		lines: make(chan string),
	}
}

// Attach binds the controller. It is separate from New because the session
// needs the console as its alerter.
func (c *Console) Attach(controller Controller) {
	c.controller = controller
}

// Run processes commands until quit, end of input or ctx is done. Capture is
// stopped before Run returns.
func (c *Console) Run(ctx context.Context) error {
	if c.controller == nil {
		return fmt.Errorf("console has no controller attached")
	}
	defer c.controller.Stop()

	go c.readLines()

	if c.opts.AutoStart {
		c.start(ctx)
	}

	c.printHelp()
	for {
		c.prompt()

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-c.lines:
			if !ok {
				return nil
			}
		}

		if quit := c.Execute(ctx, line); quit {
			return nil
		}
	}
}

func (c *Console) readLines() {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.opts.In)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		logger.Log.Warnw("Console input error", "error", err)
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch cmd {
	case "start":
		c.start(ctx)
	case "stop":
		if !c.controller.Controls().StopEnabled {
			c.printf("Stop is disabled while capture is idle.\n")
			return false
		}
		c.controller.Stop()
		c.printf("Capture stopped.\n")
	case "user":
		c.controller.SetUserID(arg)
		c.printf("User ID set to %q.\n", submission.NormalizeUserID(arg))
	case "role":
		if err := c.controller.SetRole(arg); err != nil {
			c.printf("Unknown role %q. Choose one of: %s.\n", arg, roleNames())
			return false
		}
		c.printf("Role set to %s.\n", c.controller.Role())
	case "interval":
		c.controller.SetIntervalInput(arg)
		c.printf("Interval set to %s (applies on next start).\n", capture.ParseInterval(arg))
	case "status":
		c.printStatus()
	case "help", "?":
		c.printHelp()
	case "quit", "exit":
		return true
	default:
		c.printf("Unknown command %q. Type help for the command list.\n", cmd)
	}
	return false
}

func (c *Console) start(ctx context.Context) {
	if !c.controller.Controls().StartEnabled {
		c.printf("Capture is already running.\n")
		return
	}
	if err := c.controller.Start(ctx); err != nil {
		return
	}
	c.printf("Capture started, every %s.\n", c.controller.Interval())
}

// Alert implements capture.Alerter.
func (c *Console) Alert(message string) {
	c.outMu.Lock()
	fmt.Fprintf(c.opts.Err, "ALERT: %s\n", message)
	if c.opts.ConfirmAlerts {
		fmt.Fprint(c.opts.Err, "Press Enter to continue...")
	}
	c.outMu.Unlock()

	if c.opts.ConfirmAlerts {
		<-c.lines
	}
}

// ShowDisplay prints the three display fields. It is safe to call from
// capture goroutines.
func (c *Console) ShowDisplay(d capture.Display) {
	emotion, confidence, engagement := d.Fields()
	c.printf("\nEmotion: %s | Confidence: %s | Engagement: %s\n", emotion, confidence, engagement)
	c.prompt()
}

func (c *Console) printStatus() {
	ctl := c.controller.Controls()
	state := "idle"
	if c.controller.Capturing() {
		state = fmt.Sprintf("capturing every %s", c.controller.Interval())
	}

	c.printf("State:    %s\n", state)
	c.printf("Controls: start %s, stop %s\n", enabled(ctl.StartEnabled), enabled(ctl.StopEnabled))
	c.printf("User ID:  %s\n", submission.NormalizeUserID(c.controller.UserID()))
	c.printf("Role:     %s\n", c.controller.Role())
	c.printf("Interval: %s\n", capture.ParseInterval(c.controller.IntervalInput()))
	c.printf("Camera:   %s\n", cameraState(c.controller.Capturing(), c.controller.CameraHealth()))

	d := c.controller.Display()
	if d.Emotion == "" {
		c.printf("Last:     -\n")
		return
	}
	emotion, confidence, engagement := d.Fields()
	c.printf("Last:     %s (confidence %s, engagement %s) at %s\n",
		emotion, confidence, engagement, d.UpdatedAt.Format(time.TimeOnly))
}

func (c *Console) printHelp() {
	c.printf("Commands: start | stop | user <id> | role <%s> | interval <seconds> | status | quit\n",
		strings.ReplaceAll(roleNames(), ", ", "|"))
}

func (c *Console) prompt() {
	if c.opts.Prompt != "" {
		c.printf("%s", c.opts.Prompt)
	}
}

func (c *Console) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.opts.Out, format, args...)
}

func cameraState(capturing bool, h camera.Health) string {
	switch {
	case !capturing:
		return "released"
	case h.IsActive:
		return "ok, last frame at " + h.LastSuccessfulCapture.Format(time.TimeOnly)
	case h.ConsecutiveFailures >= camera.DownAfterFailures:
		return fmt.Sprintf("down, %d failed frames (%v)", h.ConsecutiveFailures, h.LastError)
	case h.ConsecutiveFailures > 0:
		return fmt.Sprintf("%d failed frames", h.ConsecutiveFailures)
	default:
		return "waiting for first frame"
	}
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func roleNames() string {
	names := make([]string, len(submission.Roles))
	for i, r := range submission.Roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
