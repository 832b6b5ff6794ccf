package finetune

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics summarizes a finished training run.
type Metrics struct {
	FinalTrainLoss    float64       `json:"final_train_loss"`
	FinalEvalLoss     float64       `json:"final_eval_loss"`
	TotalSteps        int           `json:"total_steps"`
	Config            MetricsConfig `json:"config"`
	TrainingCompleted time.Time     `json:"training_completed"`
}

// MetricsConfig records the hyperparameters a run used.
type MetricsConfig struct {
	ModelName    string  `json:"model_name"`
	LearningRate float64 `json:"learning_rate"`
	BatchSize    int     `json:"batch_size"`
	NumEpochs    int     `json:"num_epochs"`
	UseLoRA      bool    `json:"use_lora"`
	MaxLength    int     `json:"max_length"`
}

var (
	lossPattern     = regexp.MustCompile(`'?\b(train_loss|eval_loss|loss)'?\s*[:=]\s*([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)`)
	stepPattern     = regexp.MustCompile(`'?\b(?:global_step|step)'?\s*[:=]\s*(\d+)`)
	progressPattern = regexp.MustCompile(`\b(\d+)/(\d+)\s*\[`)
)

// LogParser tracks losses and steps from trainer log lines.
type LogParser struct {
	mu        sync.Mutex
	trainLoss float64
	evalLoss  float64
	lastLoss  float64
	steps     int
}

// Feed parses one line.
func (p *LogParser) Feed(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range lossPattern.FindAllStringSubmatch(line, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch m[1] {
		case "train_loss":
			p.trainLoss = v
		case "eval_loss":
			p.evalLoss = v
		default:
			p.lastLoss = v
		}
	}
	if m := stepPattern.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > p.steps {
			p.steps = n
		}
	}
	if m := progressPattern.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > p.steps {
			p.steps = n
		}
	}
}

// Result returns the final train loss (the last logged loss when the trainer
// never reported train_loss), eval loss and step count.
func (p *LogParser) Result() (trainLoss, evalLoss float64, steps int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	trainLoss = p.trainLoss
	if trainLoss == 0 {
		trainLoss = p.lastLoss
	}
	return trainLoss, p.evalLoss, p.steps
}

// Run writes a plan, runs the trainer command with the plan paths appended, and
// writes training_metrics.json when it succeeds. Cancelling ctx kills the trainer.
func (t *Trainer) Run(ctx context.Context, datasetDir string) (*Metrics, error) {
	if len(t.cfg.Command) == 0 {
		return nil, errors.New("trainer command is not configured")
	}
	plan, err := t.Plan(datasetDir)
	if err != nil {
		return nil, err
	}
	args := append([]string{}, t.cfg.Command[1:]...)
	args = append(args, "--adapter-config", plan.AdapterConfigPath, "--training-args", plan.TrainingArgsPath)
	cmd := exec.CommandContext(ctx, t.cfg.Command[0], args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	t.logger.Info("starting trainer", zap.Strings("command", cmd.Args))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start trainer: %w", err)
	}

	parser := &LogParser{}
	var wg sync.WaitGroup
	wg.Add(2)
	go t.stream(&wg, "stdout", stdout, parser)
	go t.stream(&wg, "stderr", stderr, parser)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("training canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("trainer failed: %w", err)
	}

	eff := t.Effective()
	trainLoss, evalLoss, steps := parser.Result()
	m := &Metrics{
		FinalTrainLoss: trainLoss,
		FinalEvalLoss:  evalLoss,
		TotalSteps:     steps,
		Config: MetricsConfig{
			ModelName:    eff.BaseModel,
			LearningRate: eff.LearningRate,
			BatchSize:    eff.BatchSize,
			NumEpochs:    eff.Epochs,
			UseLoRA:      true,
			MaxLength:    eff.MaxLength,
		},
		TrainingCompleted: t.now(),
	}
	if err := writeJSON(filepath.Join(eff.OutputDir, metricsFile), m); err != nil {
		return nil, err
	}
	t.logger.Info("training completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Float64("train_loss", trainLoss),
		zap.Float64("eval_loss", evalLoss),
		zap.Int("steps", steps),
	)
	return m, nil
}

func (t *Trainer) stream(wg *sync.WaitGroup, name string, r io.Reader, parser *LogParser) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		parser.Feed(line)
		t.logger.Info("trainer", zap.String("stream", name), zap.String("line", line))
	}
}
