package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/pickup/internal/app"
	"github.com/foxzi/pickup/internal/template"
)

var (
	templateName     string
	templateSubject  string
	templateHTMLFile string
	templateTextFile string
	templateInactive bool
	templateActive   string
	templateVars     []string
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template management commands",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all templates",
	RunE:  runTemplateList,
}

var templateShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show template details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateShow,
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new template",
	RunE:  runTemplateCreate,
}

var templateUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields of a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateUpdate,
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDelete,
}

var templateInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the default template if none exist",
	RunE:  runTemplateInit,
}

var templatePreviewCmd = &cobra.Command{
	Use:   "preview <id>",
	Short: "Render a template with sample or given variables",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatePreview,
}

func init() {
	// Flags for create
	templateCreateCmd.Flags().StringVar(&templateName, "name", "", "Template name (required)")
	templateCreateCmd.Flags().StringVar(&templateSubject, "subject", "", "Subject with placeholders (required)")
	templateCreateCmd.Flags().StringVar(&templateHTMLFile, "html", "", "HTML body file (required)")
	templateCreateCmd.Flags().StringVar(&templateTextFile, "text", "", "Text body file (required)")
	templateCreateCmd.Flags().BoolVar(&templateInactive, "inactive", false, "Create the template inactive")
	templateCreateCmd.MarkFlagRequired("name")
	templateCreateCmd.MarkFlagRequired("subject")
	templateCreateCmd.MarkFlagRequired("html")
	templateCreateCmd.MarkFlagRequired("text")

	// Flags for update
	templateUpdateCmd.Flags().StringVar(&templateName, "name", "", "New name")
	templateUpdateCmd.Flags().StringVar(&templateSubject, "subject", "", "New subject")
	templateUpdateCmd.Flags().StringVar(&templateHTMLFile, "html", "", "New HTML body file")
	templateUpdateCmd.Flags().StringVar(&templateTextFile, "text", "", "New text body file")
	templateUpdateCmd.Flags().StringVar(&templateActive, "active", "", "Set active state (true or false)")

	// Flags for preview
	templatePreviewCmd.Flags().StringArrayVar(&templateVars, "var", nil, "Variable as key=value (repeatable)")

	templateCmd.AddCommand(
		templateListCmd,
		templateShowCmd,
		templateCreateCmd,
		templateUpdateCmd,
		templateDeleteCmd,
		templateInitCmd,
		templatePreviewCmd,
	)
	rootCmd.AddCommand(templateCmd)
}

// openStorage loads the configuration and opens the configured backend
func openStorage(cmd *cobra.Command) (*app.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := app.OpenStorage(cmd.Context(), cfg, newLogger(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return store, nil
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	store, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	templates := store.Templates.List(cmd.Context())
	if len(templates) == 0 {
		fmt.Println("No templates found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSUBJECT\tACTIVE\tUPDATED")
	for _, tmpl := range templates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
			tmpl.ID,
			tmpl.Name,
			truncate(tmpl.Subject, 40),
			tmpl.IsActive,
			tmpl.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d templates\n", len(templates))
	return nil
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	store, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	tmpl, err := getTemplate(cmd, store, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", tmpl.ID)
	fmt.Printf("Name:     %s\n", tmpl.Name)
	fmt.Printf("Active:   %v\n", tmpl.IsActive)
	fmt.Printf("Created:  %s\n", tmpl.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:  %s\n", tmpl.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("\nSubject:\n  %s\n", tmpl.Subject)

	fmt.Printf("\nText Body:\n")
	printIndented(tmpl.BodyText, 0)

	fmt.Printf("\nHTML Body:\n")
	printIndented(tmpl.BodyHTML, 20)

	placeholders := template.Placeholders(tmpl.Subject + tmpl.BodyHTML + tmpl.BodyText)
	if len(placeholders) > 0 {
		fmt.Printf("\nPlaceholders: %s\n", strings.Join(placeholders, ", "))
	}

	return nil
}

func getTemplate(cmd *cobra.Command, store *app.Storage, id string) (*template.Template, error) {
	tmpl, err := store.Templates.Get(cmd.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", template.ErrNotFound, id)
	}
	return tmpl, nil
}

func runTemplateCreate(cmd *cobra.Command, args []string) error {
	htmlBody, err := readBody(templateHTMLFile, "HTML")
	if err != nil {
		return err
	}
	textBody, err := readBody(templateTextFile, "text")
	if err != nil {
		return err
	}

	store, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	tmpl := &template.Template{
		Name:     templateName,
		Subject:  templateSubject,
		BodyHTML: htmlBody,
		BodyText: textBody,
		IsActive: !templateInactive,
	}
	if err := store.Templates.Create(cmd.Context(), tmpl); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	fmt.Printf("Template created successfully\n")
	fmt.Printf("  ID:   %s\n", tmpl.ID)
	fmt.Printf("  Name: %s\n", tmpl.Name)
	return nil
}

func runTemplateUpdate(cmd *cobra.Command, args []string) error {
	patch, err := templatePatch(cmd)
	if err != nil {
		return err
	}

	store, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	tmpl, err := store.Templates.Update(cmd.Context(), args[0], patch)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}

	fmt.Printf("Template updated: %s (active: %v)\n", tmpl.ID, tmpl.IsActive)
	return nil
}

// templatePatch builds a patch from the update flags that were set
func templatePatch(cmd *cobra.Command) (template.Patch, error) {
	var patch template.Patch
	flags := cmd.Flags()

	if flags.Changed("name") {
		patch.Name = &templateName
	}
	if flags.Changed("subject") {
		patch.Subject = &templateSubject
	}
	if flags.Changed("html") {
		body, err := readBody(templateHTMLFile, "HTML")
		if err != nil {
			return patch, err
		}
		patch.BodyHTML = &body
	}
	if flags.Changed("text") {
		body, err := readBody(templateTextFile, "text")
		if err != nil {
			return patch, err
		}
		patch.BodyText = &body
	}
	if flags.Changed("active") {
		active, err := parseBool(templateActive)
		if err != nil {
			return patch, fmt.Errorf("invalid --active: %w", err)
		}
		patch.IsActive = &active
	}

	if patch == (template.Patch{}) {
		return patch, fmt.Errorf("nothing to update")
	}
	return patch, nil
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	store, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Templates.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	fmt.Printf("Template deleted: %s\n", args[0])
	return nil
}

func runTemplateInit(cmd *cobra.Command, args []string) error {
	store, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	tmpl, created, err := store.Templates.Initialize(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}

	if !created {
		fmt.Println("Templates already exist, nothing created")
		return nil
	}
	fmt.Printf("Default template created: %s (%s)\n", tmpl.ID, tmpl.Name)
	return nil
}

func runTemplatePreview(cmd *cobra.Command, args []string) error {
	vars, err := parseVariables(templateVars)
	if err != nil {
		return err
	}

	store, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	tmpl, err := getTemplate(cmd, store, args[0])
	if err != nil {
		return err
	}

	rendered := tmpl.Render(vars)

	fmt.Printf("Subject:\n  %s\n\n", rendered.Subject)
	fmt.Printf("Text:\n")
	printIndented(rendered.Text, 0)
	fmt.Printf("\nHTML:\n")
	printIndented(rendered.HTML, 0)

	if unresolved := rendered.Unresolved(); len(unresolved) > 0 {
		fmt.Printf("\nUnresolved placeholders: %s\n", strings.Join(unresolved, ", "))
	}
	return nil
}

// parseVariables turns key=value pairs into variables. Without pairs the
// sample values are used.
func parseVariables(pairs []string) (template.Variables, error) {
	if len(pairs) == 0 {
		return template.SampleVariables(), nil
	}

	vars := make(template.Variables, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid variable %q (want key=value)", pair)
		}
		vars[strings.TrimSpace(key)] = value
	}
	return vars, nil
}

func readBody(path, kind string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s file: %w", kind, err)
	}
	return string(data), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// printIndented prints text indented, at most maxLines lines (0 = all)
func printIndented(text string, maxLines int) {
	lines := strings.Split(text, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		for _, line := range lines[:maxLines] {
			fmt.Printf("  %s\n", line)
		}
		fmt.Printf("  ... (%d more lines)\n", len(lines)-maxLines)
		return
	}
	for _, line := range lines {
		fmt.Printf("  %s\n", line)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
