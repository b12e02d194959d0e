package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/policyguard/internal/api"
	"github.com/kalambet/policyguard/internal/config"
	"github.com/kalambet/policyguard/internal/ingest"
	"github.com/kalambet/policyguard/internal/invoice"
	"github.com/kalambet/policyguard/internal/retrieval"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Add a policy document to the knowledge base",
	Long: `Add a policy document to the knowledge base.

Examples:
  policyguard ingest ./travel-policy.pdf --company acme
  policyguard ingest --text "Meals are reimbursed up to INR 1500 per day..." --name meals.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		name, _ := cmd.Flags().GetString("name")
		company, _ := cmd.Flags().GetString("company")
		uploadedBy, _ := cmd.Flags().GetString("uploaded-by")

		fileName, mimeType, data, err := readInput(args, text, name)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), "/policies", fileName, mimeType, data, map[string]string{
			"company_id":  company,
			"uploaded_by": uploadedBy,
		})
		if err != nil {
			return err
		}

		var result ingest.Result
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Message)
		printStatus("Document", "%s", result.DocumentID)
		if len(result.Sections) > 0 {
			printStatus("Sections", "%s", strings.Join(result.Sections, ", "))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "policy text to ingest instead of a file")
	ingestCmd.Flags().String("name", "policy.txt", "file name recorded for --text input")
	ingestCmd.Flags().String("company", "", "company the policy belongs to")
	ingestCmd.Flags().String("uploaded-by", os.Getenv("USER"), "uploader recorded with the document")
}

// readInput returns the upload for either a file argument or inline text.
func readInput(args []string, text, name string) (fileName, mimeType string, data []byte, err error) {
	switch {
	case len(args) == 1 && text != "":
		return "", "", nil, errors.New("pass either a file or --text, not both")
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", nil, fmt.Errorf("reading file: %w", err)
		}
		fileName = filepath.Base(args[0])
		mimeType = mime.TypeByExtension(filepath.Ext(fileName))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		return fileName, mimeType, data, nil
	case text != "":
		return name, "text/plain; charset=utf-8", []byte(text), nil
	}
	return "", "", nil, errors.New("a file argument or --text is required")
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyse an invoice against the expense policy",
	Long: `Analyse an invoice (PDF, image or text) against the expense policy.

Examples:
  policyguard analyze ./invoice.pdf --company acme
  policyguard analyze ./receipt.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		asJSON, _ := cmd.Flags().GetBool("json")

		fileName, mimeType, data, err := readInput(args, "", "")
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Analysing %s...", fileName)
		resp, err := client.upload(cmd.Context(), "/invoices/analyze", fileName, mimeType, data, map[string]string{
			"company_id": company,
		})
		if err != nil {
			return err
		}

		var result invoice.AnalysisResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			return printJSON(result)
		}
		printAnalysis(os.Stdout, result)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("company", "", "company whose policies apply")
	analyzeCmd.Flags().Bool("json", false, "print the full result as JSON")
}

// --- policies ---

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Manage ingested policy documents",
}

var policiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policy documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/policies"
		if company != "" {
			path += "?company_id=" + url.QueryEscape(company)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var docs []retrieval.Document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No policy documents found.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %s  v%d  %d chunks  %s\n",
				colorize(colorCyan, shortID(d.ID)),
				d.CreatedAt.Format("2006-01-02 15:04"),
				d.Version,
				d.TotalChunks,
				d.FileName,
			)
		}
		return nil
	},
}

var policiesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a policy document and its sections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/policies/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Deleted policy document %s", args[0])
		return nil
	},
}

func init() {
	policiesListCmd.Flags().String("company", "", "only list this company's documents")
	policiesCmd.AddCommand(policiesListCmd)
	policiesCmd.AddCommand(policiesDeleteCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the policy knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		company, _ := cmd.Flags().GetString("company")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/policies/search", api.SearchRequest{
			Query:     strings.Join(args, " "),
			CompanyID: company,
			Limit:     limit,
		})
		if err != nil {
			return err
		}

		var matches []retrieval.Match
		if err := decodeJSON(resp, &matches); err != nil {
			return err
		}

		for i, m := range matches {
			if m.Sentinel {
				fmt.Println(m.Content)
				continue
			}
			fmt.Printf("\n%s %s [score: %.3f]\n",
				colorize(colorBold, fmt.Sprintf("Result %d", i+1)),
				m.Section,
				m.Score,
			)
			fmt.Printf("  Source: %s\n", m.DocumentName)
			fmt.Printf("  %s\n", truncateText(m.Content, 500))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", retrieval.DefaultTopK, "maximum number of results")
	searchCmd.Flags().String("company", "", "restrict to one company's policies")
}

// --- invoices ---

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Browse invoice analysis history",
}

var invoicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent invoice analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		resp, err := client.get(cmd.Context(), "/invoices?"+q.Encode())
		if err != nil {
			return err
		}

		var list []api.InvoiceSummary
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Println("No invoice analyses found.")
			return nil
		}

		for _, inv := range list {
			fmt.Printf("%s  %s  %-12s  risk %3d  %s\n",
				colorize(colorCyan, inv.ID),
				inv.CreatedAt.Format("2006-01-02 15:04"),
				statusLabel(inv.Status),
				inv.OverallRiskScore,
				inv.FileName,
			)
		}
		return nil
	},
}

var invoicesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored invoice analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/invoices/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result invoice.AnalysisResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			return printJSON(result)
		}
		printAnalysis(os.Stdout, result)
		return nil
	},
}

func init() {
	invoicesListCmd.Flags().Int("limit", 20, "maximum number of analyses to list")
	invoicesListCmd.Flags().Int("offset", 0, "number of analyses to skip")
	invoicesShowCmd.Flags().Bool("json", false, "print the full result as JSON")
	invoicesCmd.AddCommand(invoicesListCmd)
	invoicesCmd.AddCommand(invoicesShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file. Valid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
