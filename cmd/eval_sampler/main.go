package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/dustin/go-humanize"

	evalset "github.com/corpustools/evalset"
	"github.com/corpustools/evalset/corpus"
	"github.com/corpustools/evalset/docfilter"
	"github.com/corpustools/evalset/tokenizer"
	"github.com/corpustools/evalset/writer"
)

// samplerConfig is the parsed CLI surface of one run.
type samplerConfig struct {
	inputPatterns []string
	outputDir     string
	plan          evalset.SamplingPlan
	tokenizerId   string
	groupBy       string
	minSentences  int
	terminalPunct bool
	jobs          int
	noOverwrite   bool
	s3c           corpus.S3Client
}

func main() {
	inputFiles := flag.String("input_files", "",
		"comma-separated input file patterns; supports ** globs and "+
			"s3://bucket/prefix sources")
	outputDir := flag.String("output_dir", "",
		"destination directory, created if absent")
	seed := flag.Int64("seed", 0,
		"global seed; identical seed, inputs and budget produce "+
			"byte-identical output")
	evenByFile := flag.Bool("sample_evenly_by_file", false,
		"draw documents from each file proportional to its size")
	ratio := flag.Float64("ratio", 0,
		"even-by-file sampling ratio in (0, 1]")
	targetCount := flag.Int("target_count", 0,
		"even-by-file target total document count, used to derive the "+
			"ratio when -ratio is unset")
	tokenTarget := flag.Int("split_token_count_target", 0,
		"single global token budget")
	tokensPerSubdomain := flag.Int("tokens_per_subdomain", 0,
		"token quota applied independently to each group")
	tokenizerId := flag.String("tokenizer", "",
		"tokenizer to use [gpt2, pile, huggingface-id, "+
			"tiktoken:<encoding>]")
	groupBy := flag.String("group_by", "file",
		"group assignment [file, subdomain]")
	overshoot := flag.String("overshoot", "reject",
		"quota boundary policy [reject, greedy]")
	minSentences := flag.Int("min_sentences", 0,
		"drop documents with fewer sentences, 0 to disable")
	terminalPunct := flag.Bool("require_terminal_punct", false,
		"drop documents that do not end on a sentence boundary")
	jobs := flag.Int("jobs", 4, "concurrent group writes")
	noOverwrite := flag.Bool("no_overwrite", false,
		"fail if an output file already exists")
	flag.Parse()

	if *inputFiles == "" {
		flag.Usage()
		log.Fatal("Must provide -input_files")
	}
	if *outputDir == "" {
		flag.Usage()
		log.Fatal("Must provide -output_dir")
	}
	seedGiven := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seedGiven = true
		}
	})
	if !seedGiven {
		log.Fatal("Must provide -seed for a reproducible run")
	}

	plan := evalset.SamplingPlan{Seed: *seed}
	selectors := 0
	if *evenByFile {
		plan.Strategy = evalset.StrategyEvenByFile
		plan.Ratio = *ratio
		plan.TargetCount = *targetCount
		selectors++
	}
	if *tokenTarget > 0 {
		plan.Strategy = evalset.StrategyTokenBudget
		plan.TokenTarget = *tokenTarget
		selectors++
	}
	if *tokensPerSubdomain > 0 {
		plan.Strategy = evalset.StrategyPerGroupQuota
		plan.TokensPerGroup = *tokensPerSubdomain
		selectors++
	}
	if selectors != 1 {
		log.Fatal("Must provide exactly one of -sample_evenly_by_file, " +
			"-split_token_count_target, -tokens_per_subdomain")
	}
	policy, policyErr := evalset.ParseOvershootPolicy(*overshoot)
	if policyErr != nil {
		log.Fatal(policyErr)
	}
	plan.Overshoot = policy
	if err := plan.Validate(); err != nil {
		log.Fatal(err)
	}
	if plan.NeedsTokenCounts() && *tokenizerId == "" {
		log.Fatal("Strategy ", plan.Strategy,
			" requires -tokenizer for token counting")
	}

	cfg := &samplerConfig{
		inputPatterns: splitPatterns(*inputFiles),
		outputDir:     *outputDir,
		plan:          plan,
		tokenizerId:   *tokenizerId,
		groupBy:       *groupBy,
		minSentences:  *minSentences,
		terminalPunct: *terminalPunct,
		jobs:          *jobs,
		noOverwrite:   *noOverwrite,
	}
	for _, pattern := range cfg.inputPatterns {
		if strings.HasPrefix(pattern, "s3://") {
			sess := session.Must(session.NewSession())
			cfg.s3c = s3.New(sess)
			break
		}
	}

	log.Printf("Sampling strategy: %s", plan.Strategy)
	log.Printf("Seed: %d", plan.Seed)
	log.Printf("Overshoot policy: %s", plan.Overshoot)
	log.Printf("Input patterns: %s", *inputFiles)
	log.Printf("Output directory: %s", *outputDir)
	if *tokenizerId != "" {
		log.Printf("Tokenizer: %s", *tokenizerId)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	begin := time.Now()
	subset, err := run(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	printSummary(subset)
	log.Printf("Completed in %0.2fs", time.Since(begin).Seconds())
}

func splitPatterns(spec string) []string {
	parts := strings.Split(spec, ",")
	patterns := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}

// run wires the pipeline: reader -> group assigner -> tokenizer ->
// sampler -> writer. The tokenizer is loaded before any sampling work so
// a bad vocabulary aborts the run up front.
func run(ctx context.Context, cfg *samplerConfig) (*evalset.Subset, error) {
	assigner, err := evalset.NewGroupAssigner(cfg.groupBy)
	if err != nil {
		return nil, err
	}

	var counter evalset.TokenCounter
	if cfg.tokenizerId != "" {
		codec, loadErr := tokenizer.Load(cfg.tokenizerId)
		if loadErr != nil {
			return nil, loadErr
		}
		counter = codec
	}

	reader, err := corpus.NewReader(cfg.inputPatterns, cfg.s3c)
	if err != nil {
		return nil, err
	}
	log.Printf("Matched %d input files", len(reader.Sources()))

	var filters []evalset.DocumentFilter
	if cfg.minSentences > 0 {
		filters = append(filters, docfilter.MinSentences(cfg.minSentences))
	}
	if cfg.terminalPunct {
		filters = append(filters, docfilter.TerminalPunct())
	}
	sampler := &evalset.Sampler{
		Assigner: assigner,
		Counter:  counter,
	}
	if len(filters) > 0 {
		sampler.Filter = docfilter.All(filters...)
	}

	subset, err := sampler.Select(reader, cfg.plan)
	if err != nil {
		return nil, err
	}

	out := &writer.Writer{
		OutputDir:   cfg.outputDir,
		NoOverwrite: cfg.noOverwrite,
		Jobs:        cfg.jobs,
	}
	if err := out.WriteSubset(ctx, subset); err != nil {
		return nil, err
	}
	return subset, nil
}

func printSummary(subset *evalset.Subset) {
	for _, key := range subset.GroupKeys() {
		g := subset.Groups[key]
		line := fmt.Sprintf(
			"group %s: considered %s, selected %s",
			g.Key,
			humanize.Comma(int64(g.Considered)),
			humanize.Comma(int64(g.Selected)),
		)
		if g.Quota > 0 {
			line += fmt.Sprintf(", %s / %s tokens",
				humanize.Comma(int64(g.Tokens)),
				humanize.Comma(int64(g.Quota)))
		} else if g.Tokens > 0 {
			line += fmt.Sprintf(", %s tokens",
				humanize.Comma(int64(g.Tokens)))
		}
		if g.Shortfall > 0 {
			line += fmt.Sprintf(", shortfall %s",
				humanize.Comma(int64(g.Shortfall)))
		}
		if g.SkippedOversized > 0 {
			line += fmt.Sprintf(", %d skipped at quota boundary",
				g.SkippedOversized)
		}
		log.Print(line)
	}
	if subset.GlobalQuota > 0 {
		log.Printf("total: %s / %s tokens",
			humanize.Comma(int64(subset.TotalTokens)),
			humanize.Comma(int64(subset.GlobalQuota)))
	}
	if subset.GlobalShortfall > 0 {
		log.Printf("shortfall: %s tokens short of the target",
			humanize.Comma(int64(subset.GlobalShortfall)))
	}
	if subset.SkippedRecords > 0 {
		log.Printf("%d malformed records skipped", subset.SkippedRecords)
	}
	if subset.FilteredOut > 0 {
		log.Printf("%d documents excluded by filters", subset.FilteredOut)
	}
	log.Printf("%s documents selected of %s considered across %d groups",
		humanize.Comma(int64(subset.TotalSelected())),
		humanize.Comma(int64(subset.TotalConsidered())),
		len(subset.Groups))
}
