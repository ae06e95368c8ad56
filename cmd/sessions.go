package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"datafill/internal/database"
	"datafill/internal/device"
	"datafill/internal/models"
	"datafill/internal/session"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	deviceFlag    string
	subDeviceFlag string
	listDevice    string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List or delete saved sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, newest first",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <serial>",
	Short: "Delete the saved session of one instrument",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsListCmd.Flags().StringVar(&listDevice, "device", "", "Only sessions of this device type")
	addDeviceFlags(sessionsDeleteCmd)
	sessionsDeleteCmd.Flags().BoolVar(&skipConfirmation, "yes", false, "Skip confirmation prompts")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func addDeviceFlags(c *cobra.Command) {
	c.Flags().StringVar(&deviceFlag, "device", string(models.Thermometer), "Device type: thermometer, alcotest or inspector")
	c.Flags().StringVar(&subDeviceFlag, "sub-device", "", "Verified device type when --device is inspector")
}

// deviceKey validates the device flags and builds the session key for serial.
func deviceKey(serial string) (models.Key, error) {
	dev := models.DeviceType(strings.ToLower(deviceFlag))
	sub := models.DeviceType(strings.ToLower(subDeviceFlag))
	if _, err := device.Resolve(dev, sub); err != nil {
		return models.Key{}, err
	}
	if dev != models.Inspector {
		sub = ""
	}
	sn, cyrillic := device.NormalizeSerial(serial)
	if cyrillic {
		return models.Key{}, fmt.Errorf("serial number %q contains Cyrillic letters", serial)
	}
	if sn == "" {
		return models.Key{}, fmt.Errorf("serial number is required")
	}
	return models.Key{SerialNumber: sn, DeviceType: dev, SubDeviceType: sub}, nil
}

func findSession(ctx context.Context, store database.Store, key models.Key) (*models.Session, error) {
	s, err := store.FindSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", key, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", database.ErrNotFound, key)
	}
	return s, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SERIAL", "DEVICE", "ZIP", "POINTS", "VERDICT", "SAVED")
	shown := 0
	for i := range sessions {
		s := &sessions[i]
		if listDevice != "" && !strings.EqualFold(string(s.DeviceType), listDevice) {
			continue
		}
		verdict := ""
		points := strconv.Itoa(len(s.Points))
		if fam, err := device.Resolve(s.DeviceType, s.SubDeviceType); err == nil {
			verdict = session.Overall(s, fam.Points()).String()
			points += "/" + strconv.Itoa(len(fam.Points()))
		}
		t.Row(s.SerialNumber, s.DeviceName, s.ZipGroupCode, points, verdict, s.Timestamp.Local().Format("02.01.2006 15:04"))
		shown++
	}

	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	log.Printf("%d sessions", shown)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	key, err := deviceKey(args[0])
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	s, err := findSession(ctx, store, key)
	if err != nil {
		return err
	}

	if !skipConfirmation && !confirmAction(fmt.Sprintf("Delete session %s of %s (%d points)?", s.ID, key, len(s.Points))) {
		log.Println("Delete cancelled")
		return nil
	}

	if err := store.DeleteSession(ctx, s.ID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", s.ID, err)
	}
	log.Printf("Deleted session %s of %s", s.ID, key)
	return nil
}
