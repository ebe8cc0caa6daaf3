// Package cli implements the interactive console: live status, the
// connection table and ban list management.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/emberline-project/emberline/internal/config"
	"github.com/emberline-project/emberline/internal/db"
	"github.com/emberline-project/emberline/internal/events"
	"github.com/emberline-project/emberline/internal/network"
	"github.com/emberline-project/emberline/internal/util"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.Bus
	registry *network.Registry
	bans     *db.BanStore
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.Bus, registry *network.Registry, bans *db.BanStore) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		registry: registry,
		bans:     bans,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nEmberline CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()
	defer reader.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("emberline> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "bans":
		return c.printBans()
	case "ban":
		return c.cmdBan(args)
	case "unban":
		return c.cmdUnban(args)
	case "quit", "exit", "stop", "q":
		fmt.Println("Shutting down Emberline...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║                  Emberline CLI Commands                  ║")
	fmt.Println("╠══════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show server status                  ║")
	fmt.Println("║  players            List online players and connections ║")
	fmt.Println("║  bans               List ban entries                    ║")
	fmt.Println("║  ban <name> [why]   Ban a player by name                ║")
	fmt.Println("║  unban <name>       Remove a ban entry                  ║")
	fmt.Println("║  quit               Shutdown Emberline                  ║")
	fmt.Println("║  help               Show this help message              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus shows listener settings and host usage.
func (c *CLI) printStatus() {
	mode := "offline"
	if c.cfg.Security.OnlineMode {
		mode = "online"
	}
	compression := "disabled"
	if c.cfg.Network.CompressionThreshold >= 0 {
		compression = fmt.Sprintf("threshold %d bytes", c.cfg.Network.CompressionThreshold)
	}

	fmt.Printf("\nListening on %s:%d (%s mode, compression %s)\n",
		c.cfg.Network.BindAddress, c.cfg.Network.Port, mode, compression)
	fmt.Printf("Players: %d / %d  Connections: %d\n",
		c.registry.PlayerCount(), c.cfg.Game.MaxPlayers, c.registry.ConnectionCount())

	if cpuPct, err := util.GetCPUUsage(); err == nil {
		fmt.Printf("CPU: %.1f%%", cpuPct)
		if mem, err := util.GetMemoryUsage(); err == nil {
			fmt.Printf("  Memory: %d/%d MB (%.1f%%)", mem.Used, mem.Total, mem.UsedPercent)
		}
		fmt.Println()
	}
	fmt.Println()
}

// printPlayers renders the connection table.
func (c *CLI) printPlayers() {
	conns := c.registry.Snapshot()
	if len(conns) == 0 {
		fmt.Println("No active connections.")
		return
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Remote", "Player", "UUID", "Connected"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, conn := range conns {
		player := conn.PlayerName
		uuid := conn.PlayerUUID
		if player == "" {
			player = "-"
			uuid = "-"
		}
		tw.Append([]string{
			conn.RemoteAddr,
			player,
			uuid,
			conn.ConnectedAt.Format(time.TimeOnly),
		})
	}
	tw.Render()
}

// printBans renders the ban list.
func (c *CLI) printBans() error {
	bans, err := c.bans.List()
	if err != nil {
		return err
	}
	if len(bans) == 0 {
		fmt.Println("Ban list is empty.")
		return nil
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Username", "Reason", "Since"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, b := range bans {
		reason := b.Reason
		if reason == "" {
			reason = "-"
		}
		tw.Append([]string{b.Username, reason, b.CreatedAt.Format(time.DateOnly)})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdBan(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ban <name> [reason]")
	}
	reason := strings.Join(args[1:], " ")
	if err := c.bans.Ban(args[0], reason); err != nil {
		return err
	}
	fmt.Printf("Banned %s. The ban applies to the next login.\n", args[0])
	return nil
}

func (c *CLI) cmdUnban(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: unban <name>")
	}
	if err := c.bans.Unban(args[0]); err != nil {
		return err
	}
	fmt.Printf("Unbanned %s.\n", args[0])
	return nil
}

// lineReader is a simple cross-platform line reader.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader() *lineReader {
	return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}

func (lr *lineReader) Close() error { return nil }
