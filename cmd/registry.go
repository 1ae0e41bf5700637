package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"crits/core"

	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const maxSeedFileSize = 1 << 20

// registrySeedSchema constrains the registry seed document
const registrySeedSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "active": {"type": "string", "enum": ["on", "off"]},
    "named": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "active": {"$ref": "#/definitions/active"}
      }
    }
  },
  "properties": {
    "campaigns": {"type": "array", "items": {"$ref": "#/definitions/named"}},
    "indicator_actions": {"type": "array", "items": {"$ref": "#/definitions/named"}},
    "object_types": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["object_type", "name"],
        "properties": {
          "object_type": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "active": {"$ref": "#/definitions/active"},
          "datatype": {
            "type": "object",
            "additionalProperties": false,
            "properties": {"enum": {"type": "boolean"}, "file": {"type": "boolean"}}
          }
        }
      }
    }
  }
}`

// RegistrySeed is the YAML document loaded by 'registry seed'
type RegistrySeed struct {
	Campaigns        []core.CampaignRecord        `yaml:"campaigns"`
	IndicatorActions []core.IndicatorActionRecord `yaml:"indicator_actions"`
	ObjectTypes      []core.ObjectTypeRecord      `yaml:"object_types"`
}

// RegistryWriter upserts registry entries by name
type RegistryWriter interface {
	UpsertCampaign(ctx context.Context, rec core.CampaignRecord) error
	UpsertIndicatorAction(ctx context.Context, rec core.IndicatorActionRecord) error
	UpsertObjectType(ctx context.Context, rec core.ObjectTypeRecord) error
}

// SeedCounts reports how many entries of each registry were written
type SeedCounts struct {
	Campaigns        int `json:"campaigns"`
	IndicatorActions int `json:"indicator_actions"`
	ObjectTypes      int `json:"object_types"`
}

// ParseRegistrySeed validates a YAML seed document against the schema and
// decodes it. Entries without an explicit active flag default to "on".
func ParseRegistrySeed(data []byte) (*RegistrySeed, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		return nil, errors.New("registry seed is empty")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(registrySeedSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate registry seed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("registry seed validation failed: %s", strings.Join(msgs, "; "))
	}

	var seed RegistrySeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to decode registry seed: %w", err)
	}
	for i := range seed.Campaigns {
		seed.Campaigns[i].Active = activeOrDefault(seed.Campaigns[i].Active)
	}
	for i := range seed.IndicatorActions {
		seed.IndicatorActions[i].Active = activeOrDefault(seed.IndicatorActions[i].Active)
	}
	for i := range seed.ObjectTypes {
		seed.ObjectTypes[i].Active = activeOrDefault(seed.ObjectTypes[i].Active)
	}
	return &seed, nil
}

func activeOrDefault(active string) string {
	if active == "" {
		return "on"
	}
	return active
}

// SeedRegistries writes every entry of the seed, stopping at the first error
func SeedRegistries(ctx context.Context, w RegistryWriter, seed *RegistrySeed, analyst string, now time.Time) (SeedCounts, error) {
	var counts SeedCounts
	for _, c := range seed.Campaigns {
		if err := w.UpsertCampaign(ctx, c); err != nil {
			return counts, fmt.Errorf("campaign %q: %w", c.Name, err)
		}
		counts.Campaigns++
	}
	for _, a := range seed.IndicatorActions {
		a.Analyst = analyst
		a.Created = now
		if err := w.UpsertIndicatorAction(ctx, a); err != nil {
			return counts, fmt.Errorf("indicator action %q: %w", a.Name, err)
		}
		counts.IndicatorActions++
	}
	for _, o := range seed.ObjectTypes {
		if err := w.UpsertObjectType(ctx, o); err != nil {
			return counts, fmt.Errorf("object type %q: %w", o.IndicatorTypeName(), err)
		}
		counts.ObjectTypes++
	}
	return counts, nil
}

// newRegistryCmd creates the 'registry' subcommand
func newRegistryCmd() *cobra.Command {
	registry := &cobra.Command{
		Use:   "registry",
		Short: "Manage campaign, action and object type registries",
	}
	registry.AddCommand(newRegistrySeedCmd())
	return registry
}

func newRegistrySeedCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Upsert registry entries from a YAML document",
		Long: `Upsert campaigns, indicator actions and object types from a YAML document:

  campaigns:
    - name: Operation Aurora
  indicator_actions:
    - name: Blocked
    - name: Sinkholed
      active: "off"
  object_types:
    - object_type: Address
      name: ipv4-addr`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFilePath(args[0]); err != nil {
				return fmt.Errorf("invalid file path: %w", err)
			}
			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("failed to stat file: %w", err)
			}
			if info.Size() > maxSeedFileSize {
				return fmt.Errorf("file too large: maximum size is %d bytes, got %d bytes", maxSeedFileSize, info.Size())
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}

			seed, err := ParseRegistrySeed(data)
			if err != nil {
				return err
			}
			if dryRun {
				if !quiet {
					successColor.Fprintf(cmd.OutOrStdout(), "✓ Seed is valid: %d campaigns, %d indicator actions, %d object types\n",
						len(seed.Campaigns), len(seed.IndicatorActions), len(seed.ObjectTypes))
				}
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			b, cleanup, err := initBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			counts, err := SeedRegistries(ctx, b.storage.Registries, seed, analyst, time.Now())
			if outputJSON {
				if encErr := outputAsJSON(cmd.OutOrStdout(), counts); encErr != nil {
					return encErr
				}
			} else if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d campaigns, %d indicator actions, %d object types\n",
					counts.Campaigns, counts.IndicatorActions, counts.ObjectTypes)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the document without writing")
	return cmd
}
