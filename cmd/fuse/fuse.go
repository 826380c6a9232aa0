package fuse

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/conf"
	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/engine"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/fusion"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/sources"
)

// Result is what one offline evaluation produced.
type Result struct {
	Verdict       fusion.Verdict              `json:"verdict"`
	Transition    alert.Transition            `json:"transition"`
	Notifications []notification.Notification `json:"notifications"`
}

// Command fuses batches read from JSON files and prints the verdict and the
// notifications a fresh instance would append. Nothing is persisted.
func Command(settings *conf.Settings) *cobra.Command {
	var movementsFile, imagesFile string

	cmd := &cobra.Command{
		Use:   "fuse --movements movements.json [--images images.json]",
		Short: "Fuse detection batches from files without touching the datastore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				movements []detection.MovementPrediction
				images    []detection.ImageClassification
			)
			if err := readJSON(movementsFile, &movements); err != nil {
				return err
			}
			if imagesFile != "" {
				if err := readJSON(imagesFile, &images); err != nil {
					return err
				}
			}
			res, err := Run(cmd.Context(), settings, movements, images)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&movementsFile, "movements", "", "JSON array of movement predictions")
	cmd.Flags().StringVar(&imagesFile, "images", "", "JSON array of image classifications")
	_ = cmd.MarkFlagRequired("movements")
	return cmd
}

// Run evaluates one tick against an in-memory engine.
func Run(ctx context.Context, settings *conf.Settings, movements []detection.MovementPrediction, images []detection.ImageClassification) (Result, error) {
	fe := fusion.New(fusion.Config{
		CorrelationWindow:   settings.Fusion.CorrelationWindow,
		MinImageProbability: settings.Fusion.MinImageProbability,
	})
	verdict, err := fe.Fuse(movements, images)
	if err != nil {
		if !errors.IsMalformedRecord(err) {
			return Result{}, err
		}
		verdict = fusion.None()
	}

	src := sources.NewStatic()
	src.SetMovements(movements...)
	src.SetImages(images...)
	svc := notification.NewService(notification.NewMemoryStore(), notification.ServiceOptions{})
	defer svc.Close()

	eng, err := engine.New(engine.ConfigFrom(settings), engine.Deps{
		Source:        src,
		Notifications: svc,
		Fusion:        fe,
	})
	if err != nil {
		return Result{}, err
	}
	tr, err := eng.EvaluateBatches(ctx, movements, images)
	if err != nil {
		return Result{}, err
	}

	res := Result{Verdict: verdict, Transition: tr, Notifications: []notification.Notification{}}
	for _, role := range notification.Roles {
		list, err := eng.Notifications(ctx, role)
		if err != nil {
			return Result{}, err
		}
		res.Notifications = append(res.Notifications, list...)
	}
	return res, nil
}

func readJSON(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryMalformedRecord).
			Context("path", path).
			Build()
	}
	return nil
}
