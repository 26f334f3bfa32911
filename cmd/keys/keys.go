// CREDENTIAL CLI
// Seals exchange API credentials into a subscription row and toggles the
// subscription lifecycle. Plaintext never reaches the database.
package keys

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"tradengine/src/model"
	"tradengine/src/repository"
	"tradengine/src/security"
)

func printUsage() {
	fmt.Println("Available commands:")
	fmt.Println("  help                                          Show this help message")
	fmt.Println("  shutdown                                      Exit the application")
	fmt.Println("  set_key <sub_id> <key> <secret> [passphrase]  Seal exchange keys onto a subscription")
	fmt.Println("  pause <sub_id>                                Pause a subscription")
	fmt.Println("  resume <sub_id>                               Resume a paused subscription")
	fmt.Println("  cancel <sub_id>                               Cancel a subscription (terminal)")
	fmt.Println()
}

func Run() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	subscriptionRep := repository.NewSubscriptionRepository()

	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	for {
		fmt.Print("cmd> ")

		if !reader.Scan() {
			return reader.Err()
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]

		switch cmd {

		case "shutdown":
			fmt.Println("Exiting CLI...")
			return nil

		case "help":
			printUsage()

		case "set_key":
			if len(parts) < 4 {
				printUsage()
				continue
			}
			subID, err := parseSubID(parts[1])
			if err != nil {
				fmt.Println("Invalid subscription id:", parts[1])
				continue
			}

			sub, err := subscriptionRep.FindByID(ctx, subID)
			if err != nil {
				logger.WithError(err).Error("Failed to load subscription")
				continue
			}
			if sub == nil {
				fmt.Println("No subscription with id", subID)
				continue
			}

			sealedKey, err := security.EncryptString(parts[2])
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt key")
				continue
			}
			sealedSecret, err := security.EncryptString(parts[3])
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt secret")
				continue
			}

			sub.APIKeySealed = sealedKey
			sub.APISecretSealed = sealedSecret
			sub.APIPassphraseSealed = ""

			if len(parts) > 4 {
				sealedPassphrase, err := security.EncryptString(parts[4])
				if err != nil {
					logger.WithError(err).Error("Failed to encrypt passphrase")
					continue
				}
				sub.APIPassphraseSealed = sealedPassphrase
			}

			if err := subscriptionRep.Save(ctx, sub); err != nil {
				logger.WithError(err).Error("Failed to save subscription")
				continue
			}
			fmt.Println("Keys sealed for subscription", subID)

		case "pause":
			setStatus(ctx, subscriptionRep, parts, model.SubscriptionStatusPaused)

		case "resume":
			setStatus(ctx, subscriptionRep, parts, model.SubscriptionStatusActive)

		case "cancel":
			setStatus(ctx, subscriptionRep, parts, model.SubscriptionStatusCancelled)

		default:
			fmt.Println("Unknown command:", cmd)
			printUsage()
		}
	}
}

func setStatus(ctx context.Context, rep *repository.SubscriptionRepository, parts []string, status string) {
	if len(parts) < 2 {
		printUsage()
		return
	}
	subID, err := parseSubID(parts[1])
	if err != nil {
		fmt.Println("Invalid subscription id:", parts[1])
		return
	}
	if err := rep.UpdateStatus(ctx, subID, status); err != nil {
		logger.WithError(err).Error("Failed to update subscription status")
		return
	}
	fmt.Println("Subscription", subID, "is now", status)
}

func parseSubID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
