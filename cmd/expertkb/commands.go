package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cognicore/expertkb/pkg/expertkb/chat"
)

// print writes v as indented JSON with --json, text otherwise.
func (a *app) print(cmd *cobra.Command, text string, v any) error {
	out := cmd.OutOrStdout()
	if !a.asJSON {
		_, err := fmt.Fprintln(out, text)
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}

func newForwardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "forward",
		Short:       "Derive every reachable fact and store it",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationMutates: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			res := a.sys.Forward()
			return a.print(cmd, chat.FormatForward(res), res)
		},
	}
}

func newProveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prove <goal>",
		Short: "Prove a goal by backward chaining",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := a.sys.Prove(strings.Join(args, " "))
			return a.print(cmd, chat.FormatBackward(res), res)
		},
	}
}

func newWhyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "why <target>",
		Short: "Explain why a conclusion holds or does not hold",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := a.sys.Why(strings.Join(args, " "))
			return a.print(cmd, chat.FormatWhy(w), w)
		},
	}
}

func newHowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "how <goal>",
		Short: "List the strategies that reach a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := a.sys.How(strings.Join(args, " "))
			return a.print(cmd, chat.FormatHow(h), h)
		},
	}
}

func newAskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one natural-language message",
		Long: `Send one natural-language message: a rule ("SE chove ENTÃO leve guarda-chuva"),
a fact ("idade = 25"), a question ("É verdade que pode dirigir?"), a why or how
question, or a command such as "listar regras".`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{annotationMutates: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			reply := a.sys.Ask(strings.Join(args, " "))
			return a.print(cmd, reply.Content, reply)
		},
	}
}

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "chat",
		Short:       "Start an interactive session",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationMutates: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "expertkb chat. Type \"ajuda\" for commands, \"sair\" or Ctrl+D to exit.")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				switch strings.ToLower(line) {
				case "sair", "exit", "quit":
					fmt.Fprintln(out, "bye")
					return nil
				}
				fmt.Fprintf(out, "%s\n\n", a.sys.Ask(line).Content)
			}
			fmt.Fprintln(out)
			return scanner.Err()
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the full state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return a.sys.WriteState(cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := a.sys.WriteState(f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "import <file>",
		Short:       "Replace the state with a JSON state or snapshot file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{annotationMutates: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if err := a.sys.ReadState(f); err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			c := a.sys.Counts()
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rule(s) and %d fact(s)\n", c.Rules, c.Facts)
			return nil
		},
	}
}
