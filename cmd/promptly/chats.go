package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"promptly-backend/internal/transcript"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your chats in creation order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		chats, err := apiClient().ListChats(cmd.Context())
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Println("No chats yet. Start one with: promptly new <message>")
			return nil
		}

		gray := color.New(color.FgHiBlack)
		for _, c := range chats {
			gray.Printf("%s  ", c.ID)
			fmt.Println(c.Title)
		}
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <chat-id> <title>",
	Short: "Rename a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChatID(args[0])
		if err != nil {
			return err
		}
		if err := apiClient().RenameChat(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		color.New(color.FgGreen).Println("✓ Renamed")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat and its images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChatID(args[0])
		if err != nil {
			return err
		}
		if err := apiClient().DeleteChat(cmd.Context(), id); err != nil {
			return err
		}
		color.New(color.FgGreen).Println("✓ Deleted")
		return nil
	},
}

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <chat-id> [file]",
	Short: "Export a chat as HTML or Markdown",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChatID(args[0])
		if err != nil {
			return err
		}

		c := apiClient()
		chat, err := c.GetChat(cmd.Context(), id)
		if err != nil {
			return err
		}
		title := id.String()
		if chats, err := c.ListChats(cmd.Context()); err == nil {
			for _, s := range chats {
				if s.ID == id {
					title = s.Title
				}
			}
		}

		out := os.Stdout
		if len(args) == 2 {
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		switch exportFormat {
		case "html":
			return transcript.HTML(out, chat, title)
		case "md", "markdown":
			_, err := fmt.Fprint(out, transcript.Markdown(chat, title))
			return err
		default:
			return fmt.Errorf("unknown format %q (want html or md)", exportFormat)
		}
	},
}

func parseChatID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("chat %q not found", s)
	}
	return id, nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "html", "output format: html or md")
	rootCmd.AddCommand(listCmd, renameCmd, deleteCmd, exportCmd)
}
