package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/memorium/internal/config"
)

var cmdCtx = context.Background()

// --- palace ---

var palaceCmd = &cobra.Command{
	Use:   "palace",
	Short: "Manage memory palaces",
}

var palaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all palaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdCtx, "/palaces")
		if err != nil {
			return err
		}

		var palaces []struct {
			ID     string `json:"_id"`
			Name   string `json:"name"`
			Images []struct {
				Annotations []json.RawMessage `json:"annotations"`
			} `json:"images"`
			UpdatedAt string `json:"updatedAt"`
		}
		if err := decodeJSON(resp, &palaces); err != nil {
			return err
		}

		if len(palaces) == 0 {
			fmt.Println("No palaces yet.")
			return nil
		}
		for _, p := range palaces {
			annotations := 0
			for _, img := range p.Images {
				annotations += len(img.Annotations)
			}
			fmt.Printf("%s  %s (%d images, %d annotations)\n",
				colorize(colorCyan, p.ID),
				colorize(colorBold, p.Name),
				len(p.Images),
				annotations,
			)
		}
		return nil
	},
}

var palaceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new palace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdCtx, "/palaces", map[string]string{
			"name":        args[0],
			"description": description,
		})
		if err != nil {
			return err
		}

		var p struct {
			ID string `json:"_id"`
		}
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		printSuccess("Created palace %s", p.ID)
		return nil
	},
}

var palaceShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one palace as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdCtx, "/palaces/"+args[0])
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var palaceRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a palace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmdCtx, "/palaces/"+args[0], map[string]string{"name": args[1]})
		if err != nil {
			return err
		}
		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		printSuccess("Renamed palace %s", args[0])
		return nil
	},
}

var palaceDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a palace and all its images and annotations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the palace and every image in it. Use --confirm to proceed.")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmdCtx, "/palaces/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}
		printSuccess("Deleted palace %s", args[0])
		return nil
	},
}

func init() {
	palaceCreateCmd.Flags().String("description", "", "palace description")
	palaceDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")
	palaceCmd.AddCommand(palaceListCmd)
	palaceCmd.AddCommand(palaceCreateCmd)
	palaceCmd.AddCommand(palaceShowCmd)
	palaceCmd.AddCommand(palaceRenameCmd)
	palaceCmd.AddCommand(palaceDeleteCmd)
}

// --- image ---

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage palace images",
}

var imageAddCmd = &cobra.Command{
	Use:   "add <palace-id> <file>",
	Short: "Add an image to a palace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		contentType, _ := cmd.Flags().GetString("content-type")
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading image file: %w", err)
		}
		if name == "" {
			name = args[1]
		}
		if contentType == "" {
			contentType = sniffImageType(args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdCtx, "/palaces/"+args[0]+"/images", map[string]any{
			"name":        name,
			"fileName":    args[1],
			"contentType": contentType,
			"data":        base64.StdEncoding.EncodeToString(data),
			"width":       width,
			"height":      height,
		})
		if err != nil {
			return err
		}

		var img struct {
			ID    string `json:"id"`
			Is360 bool   `json:"is360"`
		}
		if err := decodeJSON(resp, &img); err != nil {
			return err
		}
		printSuccess("Added image %s", img.ID)
		if img.Is360 {
			printStatus("Panorama", "detected 360° image")
		}
		return nil
	},
}

var imageDeleteCmd = &cobra.Command{
	Use:   "delete <palace-id> <image-id>",
	Short: "Delete an image and its annotations",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmdCtx, "/palaces/"+args[0]+"/images/"+args[1])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}
		printSuccess("Deleted image %s", args[1])
		return nil
	},
}

func sniffImageType(path string) string {
	switch {
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".webp"):
		return "image/webp"
	case strings.HasSuffix(path, ".gif"):
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func init() {
	imageAddCmd.Flags().String("name", "", "display name (default: file path)")
	imageAddCmd.Flags().String("content-type", "", "MIME type (default: by file extension)")
	imageAddCmd.Flags().Int("width", 0, "image width in pixels")
	imageAddCmd.Flags().Int("height", 0, "image height in pixels")
	imageCmd.AddCommand(imageAddCmd)
	imageCmd.AddCommand(imageDeleteCmd)
}

// --- annotation ---

var annotationCmd = &cobra.Command{
	Use:   "annotation",
	Short: "Manage annotations",
}

var annotationAddCmd = &cobra.Command{
	Use:   "add <palace-id> <image-id> <text>",
	Short: "Add an annotation to an image",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")
		x, _ := cmd.Flags().GetFloat64("x")
		y, _ := cmd.Flags().GetFloat64("y")
		z, _ := cmd.Flags().GetFloat64("z")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdCtx, "/palaces/"+args[0]+"/images/"+args[1]+"/annotations", map[string]any{
			"text":     args[2],
			"note":     note,
			"position": map[string]float64{"x": x, "y": y, "z": z},
		})
		if err != nil {
			return err
		}

		var ann struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &ann); err != nil {
			return err
		}
		printSuccess("Added annotation %s", ann.ID)
		return nil
	},
}

var annotationDeleteCmd = &cobra.Command{
	Use:   "delete <palace-id> <image-id> <annotation-id>",
	Short: "Delete an annotation",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmdCtx, "/palaces/"+args[0]+"/images/"+args[1]+"/annotations/"+args[2])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}
		printSuccess("Deleted annotation %s", args[2])
		return nil
	},
}

func init() {
	annotationAddCmd.Flags().String("note", "", "the fact to remember")
	annotationAddCmd.Flags().Float64("x", 0, "x position")
	annotationAddCmd.Flags().Float64("y", 0, "y position")
	annotationAddCmd.Flags().Float64("z", 0, "z position")
	annotationCmd.AddCommand(annotationAddCmd)
	annotationCmd.AddCommand(annotationDeleteCmd)
}

// --- security ---

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Manage encryption at rest",
}

var securityStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show encryption status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdCtx, "/security")
		if err != nil {
			return err
		}
		var status struct {
			Enabled   bool `json:"enabled"`
			Encrypted bool `json:"encrypted"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}
		if status.Enabled {
			printStatus("Encryption", "enabled")
		} else {
			printStatus("Encryption", "disabled")
		}
		if status.Encrypted {
			printStatus("Stored data", "encrypted")
		} else {
			printStatus("Stored data", "plaintext")
		}
		return nil
	},
}

func passwordFromFlagOrPrompt(cmd *cobra.Command, prompt string) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		return password, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var securityEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable encryption at rest",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFromFlagOrPrompt(cmd, "Choose a password: ")
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdCtx, "/security/enable", map[string]string{"password": password})
		if err != nil {
			return err
		}
		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Encryption enabled")
		printWarning("There is no password recovery. Losing the password loses the data.")
		return nil
	},
}

var securityDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable encryption and store data as plaintext",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFromFlagOrPrompt(cmd, "Password: ")
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdCtx, "/security/disable", map[string]string{"password": password})
		if err != nil {
			return err
		}
		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Encryption disabled")
		return nil
	},
}

var securityUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock encrypted data for this server session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		// Three tries, matching the server's lockout.
		for attempt := 1; attempt <= 3; attempt++ {
			password, err := passwordFromFlagOrPrompt(cmd, "Password: ")
			if err != nil {
				return err
			}
			resp, err := client.post(cmdCtx, "/security/unlock", map[string]string{"password": password})
			if err != nil {
				return err
			}
			var result map[string]bool
			err = decodeJSON(resp, &result)
			if err == nil && result["unlocked"] {
				printSuccess("Unlocked")
				return nil
			}
			if flagPw, _ := cmd.Flags().GetString("password"); flagPw != "" {
				// Non-interactive; do not loop on a fixed wrong password.
				if err != nil {
					return err
				}
				return fmt.Errorf("unlock failed")
			}
			printError("Wrong password (attempt %d of 3)", attempt)
		}
		return fmt.Errorf("too many failed attempts")
	},
}

var securityLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Forget the session password",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdCtx, "/security/lock", map[string]string{})
		if err != nil {
			return err
		}
		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Locked")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{securityEnableCmd, securityDisableCmd, securityUnlockCmd} {
		c.Flags().String("password", "", "password (prompted when omitted)")
	}
	securityCmd.AddCommand(securityStatusCmd)
	securityCmd.AddCommand(securityEnableCmd)
	securityCmd.AddCommand(securityDisableCmd)
	securityCmd.AddCommand(securityUnlockCmd)
	securityCmd.AddCommand(securityLockCmd)
}

// --- backup ---

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export and import palace bundles",
}

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all palaces to a bundle file",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		password, _ := cmd.Flags().GetString("password")
		palaceID, _ := cmd.Flags().GetString("palace")

		if encrypt && password == "" {
			return fmt.Errorf("--encrypt requires --password")
		}
		if output == "" {
			output = "memorium-backup.json"
			if encrypt {
				output += ".enc"
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdCtx, "/backup/export", map[string]any{
			"encrypted": encrypt,
			"password":  password,
			"palaceId":  palaceID,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading bundle: %w", err)
		}
		if err := os.WriteFile(output, data, 0o600); err != nil {
			return fmt.Errorf("writing bundle: %w", err)
		}
		printSuccess("Exported %s (%s)", output, formatBytes(int64(len(data))))
		return nil
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a bundle file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading bundle: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		headers := map[string]string{}
		if password != "" {
			headers["X-Backup-Password"] = password
		}
		resp, err := client.postRaw(cmdCtx, "/backup/import", data, headers)
		if err != nil {
			return err
		}

		var result struct {
			Imported int `json:"imported"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Imported %d palaces", result.Imported)
		return nil
	},
}

func init() {
	backupExportCmd.Flags().String("output", "", "output file path")
	backupExportCmd.Flags().Bool("encrypt", false, "encrypt the bundle")
	backupExportCmd.Flags().String("password", "", "bundle password")
	backupExportCmd.Flags().String("palace", "", "export only this palace")
	backupImportCmd.Flags().String("password", "", "bundle password (for encrypted bundles)")
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall practice sessions and statistics",
}

var recallStatsCmd = &cobra.Command{
	Use:   "stats <palace-id>",
	Short: "Show recall statistics for a palace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmdCtx, "/recall/stats/"+args[0])
		if err != nil {
			return err
		}
		var stats struct {
			TotalSessions           int     `json:"totalSessions"`
			TotalAnnotationsStudied int     `json:"totalAnnotationsStudied"`
			AverageScore            float64 `json:"averageScore"`
			BestScore               float64 `json:"bestScore"`
			ImprovementTrend        string  `json:"improvementTrend"`
			WeakestAnnotations      []struct {
				Text     string  `json:"text"`
				Accuracy float64 `json:"accuracy"`
			} `json:"weakestAnnotations"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		printStatus("Sessions", "%d", stats.TotalSessions)
		printStatus("Studied", "%d annotations", stats.TotalAnnotationsStudied)
		printStatus("Average", "%.0f%%", stats.AverageScore)
		printStatus("Best", "%.0f%%", stats.BestScore)
		printStatus("Trend", "%s", stats.ImprovementTrend)
		if len(stats.WeakestAnnotations) > 0 {
			fmt.Println("Weakest annotations:")
			for _, a := range stats.WeakestAnnotations {
				fmt.Printf("  %3.0f%%  %s\n", a.Accuracy, a.Text)
			}
		}
		return nil
	},
}

var recallSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recall sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		palaceID, _ := cmd.Flags().GetString("palace")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/recall/sessions"
		if palaceID != "" {
			path += "?palaceId=" + palaceID
		}
		resp, err := client.get(cmdCtx, path)
		if err != nil {
			return err
		}
		var sessions []struct {
			ID               string `json:"id"`
			PalaceName       string `json:"palaceName"`
			Mode             string `json:"mode"`
			StartTime        string `json:"startTime"`
			TotalAnnotations int    `json:"totalAnnotations"`
			RememberedCount  int    `json:"rememberedCount"`
			SkippedCount     int    `json:"skippedCount"`
		}
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}
		for _, s := range sessions {
			line := fmt.Sprintf("%s  %s  %s  %s  %d/%d remembered",
				colorize(colorCyan, s.ID),
				s.StartTime,
				colorize(colorBold, s.PalaceName),
				s.Mode,
				s.RememberedCount,
				s.TotalAnnotations,
			)
			if s.SkippedCount > 0 {
				line += fmt.Sprintf(" (%d skipped)", s.SkippedCount)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var recallRecordCmd = &cobra.Command{
	Use:   "record <palace-id> <results-file>",
	Short: "Record a completed recall session from a results JSON file",
	Long: `Record a completed recall session.

The results file is a JSON array of {annotationId, text, remembered,
skipped, attempts, timeSpentMs} objects, one per annotation tested.
Only annotationId is required.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading results file: %w", err)
		}
		var results []map[string]any
		if err := json.Unmarshal(data, &results); err != nil {
			return fmt.Errorf("invalid results JSON: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdCtx, "/recall/sessions", map[string]any{
			"palaceId": args[0],
			"mode":     mode,
			"results":  results,
		})
		if err != nil {
			return err
		}
		var session struct {
			ID               string `json:"id"`
			TotalAnnotations int    `json:"totalAnnotations"`
			RememberedCount  int    `json:"rememberedCount"`
			SkippedCount     int    `json:"skippedCount"`
		}
		if err := decodeJSON(resp, &session); err != nil {
			return err
		}
		msg := fmt.Sprintf("Recorded session %s: %d/%d remembered", session.ID, session.RememberedCount, session.TotalAnnotations)
		if session.SkippedCount > 0 {
			msg += fmt.Sprintf(", %d skipped", session.SkippedCount)
		}
		printSuccess("%s", msg)
		return nil
	},
}

func init() {
	recallSessionsCmd.Flags().String("palace", "", "filter by palace id")
	recallRecordCmd.Flags().String("mode", "", "selection mode: sequential, random, or weakest")
	recallCmd.AddCommand(recallStatsCmd)
	recallCmd.AddCommand(recallSessionsCmd)
	recallCmd.AddCommand(recallRecordCmd)
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <palace-id>",
	Short: "Generate annotation suggestions from study notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		notesFile, _ := cmd.Flags().GetString("notes-file")
		count, _ := cmd.Flags().GetInt("count")

		if notes == "" && notesFile == "" {
			return fmt.Errorf("one of --notes or --notes-file is required")
		}
		if notesFile != "" {
			data, err := os.ReadFile(notesFile)
			if err != nil {
				return fmt.Errorf("reading notes file: %w", err)
			}
			notes = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Generating suggestions...")
		resp, err := client.post(cmdCtx, "/generate", map[string]any{
			"palaceId": args[0],
			"notes":    notes,
			"count":    count,
		})
		if err != nil {
			return err
		}

		var result struct {
			Suggestions []struct {
				Description string `json:"description"`
				Note        string `json:"note"`
				ImageIndex  int    `json:"imageIndex"`
			} `json:"suggestions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Suggestions) == 0 {
			fmt.Println("No suggestions generated.")
			return nil
		}
		for i, s := range result.Suggestions {
			fmt.Printf("\n%s (image %d)\n", colorize(colorBold, fmt.Sprintf("%d. %s", i+1, s.Description)), s.ImageIndex)
			fmt.Printf("   %s\n", s.Note)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().String("notes", "", "study notes text")
	generateCmd.Flags().String("notes-file", "", "file containing study notes")
	generateCmd.Flags().Int("count", 5, "number of suggestions")
}

// --- wipe ---

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete ALL stored data",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL palaces, images, and history. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmdCtx, "/wipe", map[string]string{})
		if err != nil {
			return err
		}
		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("All data wiped")
		return nil
	},
}

func init() {
	wipeCmd.Flags().Bool("confirm", false, "confirm the wipe")
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
	Args:  cobra.ExactArgs(2),
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
