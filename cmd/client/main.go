// Command client joins the chat group as a human participant. Usage per §6
// CLI: `client [username] [group] [--simple]`. With no arguments it prompts
// for a username interactively and joins the default group. --simple drops
// the Bubble Tea TUI for a plain line-oriented terminal, useful over a basic
// SSH session or in scripts.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"groupwire/internal/peer"
	"groupwire/pkg/logger"
	"groupwire/pkg/node"
	"groupwire/pkg/ui"

	tea "github.com/charmbracelet/bubbletea"
)

const defaultGroup = "general"

func main() {
	var (
		multicast = flag.String("multicast", "", "multicast address for the datagram bus (default 224.1.1.1:5008)")
		debug     = flag.Bool("debug", false, "enable debug logging")
		simple    = flag.Bool("simple", false, "use a plain line-oriented interface instead of the full TUI")
	)
	flag.Parse()

	// flag stops at the first positional argument, so a trailing --simple
	// (`client alice general --simple`) is picked out of the remainder here.
	var positional []string
	for _, arg := range flag.Args() {
		if arg == "--simple" || arg == "-simple" {
			*simple = true
			continue
		}
		positional = append(positional, arg)
	}
	var username, group string
	if len(positional) > 0 {
		username = positional[0]
	}
	if len(positional) > 1 {
		group = positional[1]
	}
	if group == "" {
		group = defaultGroup
	}

	if *debug {
		if err := logger.ToFile("groupwire-client-debug.log"); err != nil {
			log.Printf("failed to open debug log, logging to stderr: %v", err)
		}
	}
	if *debug {
		logger.SetDebug(true)
	} else if !*simple {
		logger.Silent() // keep the TUI's screen clean
	}

	if username == "" {
		username = promptForUsername()
	}

	n, err := node.New(node.Config{
		Kind:          peer.KindClient,
		Username:      username,
		Group:         group,
		MulticastAddr: *multicast,
	})
	if err != nil {
		log.Fatalf("failed to build node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		log.Fatalf("failed to start node: %v", err)
	}

	if *simple {
		runSimple(ctx, n)
	} else {
		runTUI(n)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Stop(stopCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func promptForUsername() string {
	fmt.Print("Enter your username: ")
	reader := bufio.NewReader(os.Stdin)
	for {
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Printf("error reading input: %v\n", err)
			os.Exit(1)
		}
		name := strings.TrimSpace(input)
		if name == "" {
			fmt.Print("username cannot be empty, try again: ")
			continue
		}
		if len(name) > 20 {
			fmt.Print("username too long (max 20 characters), try again: ")
			continue
		}
		if strings.ContainsAny(name, " \t\n\r") {
			fmt.Print("username cannot contain spaces, try again: ")
			continue
		}
		return name
	}
}

func runTUI(n *node.Node) {
	model := ui.NewChatModel(n.Chat())
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		log.Printf("TUI error: %v", err)
	}
}

// runSimple is a minimal stdin/stdout chat loop for scripted or non-TTY use.
func runSimple(ctx context.Context, n *node.Node) {
	chatService := n.Chat()
	fmt.Printf("joined as %s, type a message and press enter (ctrl-d to quit)\n", chatService.Username())

	go func() {
		for msg := range chatService.GetMessages() {
			fmt.Println(msg.String())
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := chatService.SendMessage(line); err != nil {
			fmt.Printf("send failed: %v\n", err)
		}
	}
}
