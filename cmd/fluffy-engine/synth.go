package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/app"
	"github.com/fluffyengine/fluffy-engine/internal/template"
)

func newSynthCmd(o *rootOptions) *cobra.Command {
	var (
		outputDir  string
		format     string
		stackName  string
		jsonResult bool
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Render the CloudFormation templates",
		Long: `Synth resolves the target environment, declares both stacks and writes
one template per stack plus manifest.json into the output directory.

Examples:
    fluffy-engine synth -c account=123456789012 -c region=us-east-1
    fluffy-engine synth --mode static-literal -f yaml -o cdk.out
    fluffy-engine synth --stack FluffyEngineServerStack`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := o.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("output") {
				outputDir = res.Deployment.Output.Dir
			}
			if !cmd.Flags().Changed("format") {
				format = res.Deployment.Output.Format
			}
			if stackName != "" {
				return o.printStack(res, stackName, format)
			}
			return o.runSynth(res, outputDir, format, jsonResult)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default: output.dir from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Template format: json or yaml (default: output.format from config)")
	cmd.Flags().StringVar(&stackName, "stack", "", "Print one stack's template to stdout instead of writing files")
	cmd.Flags().BoolVar(&jsonResult, "json", false, "Print the synth result as JSON")

	return cmd
}

func (o *rootOptions) runSynth(res *app.Result, dir, format string, jsonResult bool) error {
	manifest, err := res.App.Synth(dir, format)
	if err != nil {
		return err
	}

	result := fluffy.SynthResult{
		Success: true,
		Output:  dir,
		Env: &fluffy.SynthEnvInfo{
			Mode:    manifest.Mode,
			Account: manifest.Account,
			Region:  manifest.Region,
		},
	}
	for _, ms := range manifest.Stacks {
		s, ok := res.App.Stack(ms.Name)
		if !ok {
			return fmt.Errorf("manifest lists unknown stack %s", ms.Name)
		}
		declared, err := s.Resources()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(declared))
		for _, r := range declared {
			names = append(names, r.Name)
		}
		result.Stacks = append(result.Stacks, fluffy.SynthStack{
			Name:      ms.Name,
			File:      filepath.Join(dir, ms.TemplateFile),
			Resources: names,
			DependsOn: ms.Dependencies,
		})
	}

	if jsonResult {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(o.stdout, string(data))
		return nil
	}

	fmt.Fprintf(o.stdout, "Synthesized %d stacks for %s/%s (%s mode)\n\n",
		len(result.Stacks), result.Env.Account, result.Env.Region, result.Env.Mode)
	for _, s := range result.Stacks {
		fmt.Fprintf(o.stdout, "  %s: %d resources -> %s\n", s.Name, len(s.Resources), s.File)
	}
	return nil
}

func (o *rootOptions) printStack(res *app.Result, name, format string) error {
	s, ok := res.App.Stack(name)
	if !ok {
		return errors.New("unknown stack " + name)
	}
	tmpl, err := s.Template()
	if err != nil {
		return err
	}
	data, err := template.Marshal(tmpl, format)
	if err != nil {
		return err
	}
	fmt.Fprintln(o.stdout, string(data))
	return nil
}
