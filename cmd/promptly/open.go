package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"promptly-backend/internal/client"
	"promptly-backend/internal/models"
	"promptly-backend/internal/orchestrator"
	"promptly-backend/internal/services"
)

var newCmd = &cobra.Command{
	Use:   "new <message>",
	Short: "Start a chat and get the first reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient()
		id, err := c.CreateChat(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		color.New(color.FgHiBlack).Printf("chat %s\n", id)
		return runSession(cmd.Context(), c, id)
	},
}

var openCmd = &cobra.Command{
	Use:   "open <chat-id>",
	Short: "Continue a chat interactively",
	Long: `Continue a chat interactively.

Type a message and press enter to send it. Commands:
  /image <path>  attach an image to the next message
  /quit          leave the chat

Ctrl-C while a reply is streaming abandons the turn; nothing is saved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChatID(args[0])
		if err != nil {
			return err
		}
		return runSession(cmd.Context(), apiClient(), id)
	},
}

func init() {
	rootCmd.AddCommand(newCmd, openCmd)
}

// session is one open chat view in the terminal.
type session struct {
	api     *client.Client
	orch    *orchestrator.Orchestrator
	printed int

	you   *color.Color
	model *color.Color
	info  *color.Color
	warn  *color.Color
}

func runSession(ctx context.Context, api *client.Client, chatID uuid.UUID) error {
	apiKey, err := requireSetting("gemini-api-key")
	if err != nil {
		return err
	}

	gemini, err := services.NewGeminiService(ctx, apiKey, viper.GetString("model"), 1)
	if err != nil {
		return err
	}
	defer gemini.Close()

	chat, err := api.GetChat(ctx, chatID)
	if err != nil {
		return err
	}

	s := &session{
		api:   api,
		you:   color.New(color.FgCyan, color.Bold),
		model: color.New(color.FgGreen),
		info:  color.New(color.FgHiBlack),
		warn:  color.New(color.FgYellow),
	}
	s.orch = orchestrator.New(gemini, api,
		orchestrator.WithInvalidator(api),
		orchestrator.WithChunkHandler(s.printChunk),
	)

	// Ctrl-C tears the view down: the stream is cancelled and the turn dropped.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	go func() {
		<-sigCtx.Done()
		s.orch.Close()
	}()

	s.printHistory(chat)
	if err := s.orch.Load(ctx, chat); err != nil {
		return err
	}

	if fired, err := s.runTurn(func() (bool, error) { return s.orch.AutoTrigger(ctx) }); fired && err != nil {
		s.warn.Printf("\n✗ %v\n", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		s.you.Print("\nyou › ")
		var line string
		select {
		case <-sigCtx.Done():
			fmt.Println()
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Println()
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/image "):
			s.attach(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/image ")))
			continue
		}

		// An unanswered opening message goes first; the line waits for it.
		fired, err := s.runTurn(func() (bool, error) { return s.orch.AutoTrigger(ctx) })
		if fired && err == nil {
			s.info.Println("(first reply received, sending your message)")
		}
		if !fired || err == nil {
			_, err = s.runTurn(func() (bool, error) {
				_, err := s.orch.Submit(ctx, line)
				return true, err
			})
		}
		if errors.Is(err, orchestrator.ErrClosed) {
			s.info.Println("\n(turn abandoned, nothing saved)")
			return nil
		}
		if err != nil {
			s.warn.Printf("\n✗ %v (send again to retry)\n", err)
		}
	}
}

// runTurn streams one reply to the terminal.
func (s *session) runTurn(turn func() (bool, error)) (bool, error) {
	s.printed = 0
	s.model.Print("\nmodel › ")
	fired, err := turn()
	if !fired {
		fmt.Print("\r\033[K")
		return false, nil
	}
	fmt.Println()
	return true, err
}

func (s *session) printChunk(answer string) {
	if len(answer) > s.printed {
		s.model.Print(answer[s.printed:])
		s.printed = len(answer)
	}
}

func (s *session) printHistory(chat *models.Chat) {
	for _, t := range chat.History {
		if t.Role == models.RoleUser {
			s.you.Print("you › ")
		} else {
			s.model.Print("model › ")
		}
		for _, ref := range t.ImageRefs() {
			s.info.Printf("[image %s] ", ref)
		}
		fmt.Println(t.FirstText())
	}
}

func (s *session) attach(ctx context.Context, path string) {
	data, mimeType, err := client.PrepareImage(path)
	if err != nil {
		s.warn.Printf("✗ %v\n", err)
		return
	}

	upload, err := s.api.Upload(ctx, filepath.Base(path), data)
	if err != nil {
		s.warn.Printf("✗ upload failed: %v\n", err)
		return
	}

	if err := s.orch.AttachImage(orchestrator.Image{Ref: upload.FilePath, MimeType: mimeType, Data: data}); err != nil {
		s.warn.Printf("✗ %v\n", err)
		return
	}
	s.info.Printf("attached %s\n", filepath.Base(path))
}
