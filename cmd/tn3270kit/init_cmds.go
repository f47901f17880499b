package main

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"tn3270kit/internal/assets"
)

var initCmd = &cobra.Command{
	Use:   "init [config_name]",
	Short: "Initialize a new tn3270kit configuration",
	Long:  "Creates a new configuration file and directory structure for a test target, prompting for details.",
	Args:  cobra.MaximumNArgs(1),
	Run:   runInit,
}

type ConfigTemplateData struct {
	Name           string
	Dir            string
	ListenAddress  string
	TargetPort     int
	RelayPort      int
	RelayHost      string
	TLSMode        string
	LUPoolSize     int
	LUPrefix       string
	SystemName     string
	Metrics        bool
	MetricsAddress string
	RedisAddr      string
}

func runInit(cmd *cobra.Command, args []string) {
	configName := "config"
	if len(args) > 0 {
		configName = args[0]
	}

	// Sanitized name for filename and paths
	safeName := sanitizeFilename(configName)

	data := ConfigTemplateData{
		Name:           configName,
		Dir:            safeName,
		ListenAddress:  "0.0.0.0",
		RelayPort:      2323,
		TLSMode:        "none",
		LUPrefix:       "TERM",
		SystemName:     "SYS",
		Metrics:        true,
		MetricsAddress: "127.0.0.1:9270",
	}
	targetPort := "3270"
	poolSize := "100"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen Address").
				Value(&data.ListenAddress),
			huh.NewInput().
				Title("Target Port").
				Value(&targetPort).
				Validate(positiveInt),
			huh.NewSelect[string]().
				Title("Target TLS").
				Options(
					huh.NewOption("None", "none"),
					huh.NewOption("STARTTLS (negotiated)", "negotiated"),
					huh.NewOption("Immediate TLS", "immediate"),
				).
				Value(&data.TLSMode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("LU Pool Size").
				Value(&poolSize).
				Validate(positiveInt),
			huh.NewInput().
				Title("LU Prefix").
				Description("Terminal IDs are this prefix padded to eight characters").
				Value(&data.LUPrefix).
				Validate(prefix),
			huh.NewInput().
				Title("System Name Prefix").
				Value(&data.SystemName).
				Validate(prefix),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Relay Host").
				Description("host:port of a real TN3270 host; leave empty to disable the relay").
				Value(&data.RelayHost),
			huh.NewConfirm().
				Title("Expose Prometheus metrics?").
				Value(&data.Metrics),
			huh.NewInput().
				Title("Redis Address").
				Description("Share application switch state between instances; leave empty for in-memory").
				Value(&data.RedisAddr),
		),
	)

	err := form.Run()
	if err != nil {
		log.Fatal(err)
	}

	data.TargetPort, _ = strconv.Atoi(targetPort)
	data.LUPoolSize, _ = strconv.Atoi(poolSize)

	configFile := safeName + ".yml"
	fmt.Printf("Initializing '%s' (config: %s)...\n", configName, configFile)

	// Create directory structure
	dirs := []string{"/data", "/keys", "/logs"}

	for _, dir := range dirs {
		path := safeName + dir
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("Error creating directory %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Created directory: %s\n", path)
	}

	out, err := assets.Render("config.yml.tmpl", data)
	if err != nil {
		fmt.Printf("Error executing template: %v\n", err)
		os.Exit(1)
	}

	// Write new config file
	if err := os.WriteFile(configFile, out, 0644); err != nil {
		fmt.Printf("Error writing config file %s: %v\n", configFile, err)
		os.Exit(1)
	}

	fmt.Printf("Configuration file created: %s\n", configFile)
	if data.TLSMode != "none" || data.RelayHost != "" {
		fmt.Printf("Place the TLS certificate and key in %s/keys/server.crt and %s/keys/server.key.\n", safeName, safeName)
	}
	fmt.Println("Initialization complete.")
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func prefix(s string) error {
	if len(s) == 0 || len(s) > 7 {
		return fmt.Errorf("must be 1 to 7 characters")
	}
	return nil
}

func sanitizeFilename(name string) string {
	name = strings.ToLower(name)
	// Replace spaces with underscores
	name = strings.ReplaceAll(name, " ", "_")
	// Remove non-alphanumeric characters (except underscores and hyphens)
	re := regexp.MustCompile(`[^a-z0-9_-]`)
	name = re.ReplaceAllString(name, "")
	return name
}
