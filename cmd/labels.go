package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/model"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Manage labeled reference geometries",
}

var labelsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import labeled points or polygons from a shapefile or GeoJSON (local path or URL)",
	Long:  "Reads reference geometries and stores them as training labels. The class comes from --class, or per feature from the --class-field attribute.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		srid, _ := cmd.Flags().GetInt("srid")
		className, _ := cmd.Flags().GetString("class")
		field, _ := cmd.Flags().GetString("class-field")

		features, err := readFeatures(ctx, args[0], srid)
		if err != nil {
			return err
		}

		samples, err := labelSamples(features, className, field)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.SaveLabels(ctx, samples)
		if err != nil {
			return eris.Wrap(err, "labels import")
		}

		zap.L().Info("labels imported", zap.String("file", args[0]), zap.Int("count", n))
		fmt.Fprintf(os.Stdout, "imported %d labels\n", n)
		return nil
	},
}

// labelSamples tags each feature with a class, either the fixed one or the
// value of field.
func labelSamples(features []geo.Feature, className, field string) ([]model.LabeledSample, error) {
	var fixed *model.Class
	if className != "" {
		c, err := model.ParseClass(className)
		if err != nil {
			return nil, err
		}
		fixed = &c
	}

	samples := make([]model.LabeledSample, 0, len(features))
	for i, f := range features {
		class := model.Class(0)
		if fixed != nil {
			class = *fixed
		} else {
			v, ok := f.Properties[field]
			if !ok {
				return nil, eris.Errorf("labels: feature %d has no %q attribute", i, field)
			}
			c, err := model.ParseClass(fmt.Sprint(v))
			if err != nil {
				return nil, eris.Wrapf(err, "labels: feature %d", i)
			}
			class = c
		}
		samples = append(samples, model.LabeledSample{Class: class, Geometry: f.Geometry})
	}
	return samples, nil
}

func init() {
	labelsImportCmd.Flags().Int("srid", 4326, "SRID of the file coordinates")
	labelsImportCmd.Flags().String("class", "", "class for every feature (urban, barren, water, vegetation or 0-3)")
	labelsImportCmd.Flags().String("class-field", "landcover", "attribute holding the class when --class is not set")

	labelsCmd.AddCommand(labelsImportCmd)
	rootCmd.AddCommand(labelsCmd)
}
