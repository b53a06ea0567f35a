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

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Manage named region boundaries",
}

var regionsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import region polygons from a shapefile or GeoJSON (local path or URL)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		srid, _ := cmd.Flags().GetInt("srid")
		field, _ := cmd.Flags().GetString("name-field")

		features, err := readFeatures(ctx, args[0], srid)
		if err != nil {
			return err
		}

		regions, err := namedRegions(features, field)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.SaveRegions(ctx, regions)
		if err != nil {
			return eris.Wrap(err, "regions import")
		}

		zap.L().Info("regions imported", zap.String("file", args[0]), zap.Int("count", n))
		fmt.Fprintf(os.Stdout, "imported %d regions\n", n)
		return nil
	},
}

var regionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored region names",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		names, err := st.ListRegions(ctx)
		if err != nil {
			return eris.Wrap(err, "regions list")
		}
		if len(names) == 0 {
			fmt.Fprintln(os.Stderr, "No regions found.")
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(os.Stdout, name)
		}
		return nil
	},
}

// namedRegions reads each feature's name from field. Only polygonal
// features are accepted.
func namedRegions(features []geo.Feature, field string) ([]model.Region, error) {
	regions := make([]model.Region, 0, len(features))
	for i, f := range features {
		v, ok := f.Properties[field]
		if !ok {
			return nil, eris.Errorf("regions: feature %d has no %q attribute", i, field)
		}
		if !f.Geometry.Polygonal() {
			return nil, eris.Errorf("regions: feature %d (%v) is not a polygon", i, v)
		}
		regions = append(regions, model.Region{Name: fmt.Sprint(v), Geometry: f.Geometry})
	}
	return regions, nil
}

func init() {
	regionsImportCmd.Flags().Int("srid", 4326, "SRID of the file coordinates")
	regionsImportCmd.Flags().String("name-field", "name", "attribute holding the region name")

	regionsCmd.AddCommand(regionsImportCmd)
	regionsCmd.AddCommand(regionsListCmd)
	rootCmd.AddCommand(regionsCmd)
}
