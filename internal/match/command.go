package match

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
)

// progressPrefix 付きの標準出力行を進捗通知として解釈します。
// 形式: PROGRESS <percent> <message>
const progressPrefix = "PROGRESS "

// CommandEvaluator は外部コマンドとして実装されたマッチングパイプラインを
// サブプロセスで実行する Evaluator です。
type CommandEvaluator struct {
	argv   []string
	logger *log.Logger
}

// NewCommandEvaluator は CommandEvaluator を作成します。
func NewCommandEvaluator(argv []string, logger *log.Logger) (*CommandEvaluator, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("pipeline command is empty")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CommandEvaluator{argv: argv, logger: logger}, nil
}

// Run はパイプラインを1回実行し、レポートから結論を読み取ります。
func (e *CommandEvaluator) Run(ctx context.Context, in Input, onProgress ProgressFunc) (*Result, error) {
	args := append([]string{}, e.argv[1:]...)
	args = append(args,
		"--cv", in.CVPath,
		"--jd", in.JDPath,
		"--cv-type", in.CVType,
		"--jd-type", in.JDType,
		"--output", in.OutputPath,
	)

	cmd := exec.CommandContext(ctx, e.argv[0], args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if message, percent, ok := parseProgressLine(line); ok {
			if onProgress != nil {
				onProgress(message, percent)
			}
			continue
		}
		if strings.TrimSpace(line) != "" {
			e.logger.Printf("pipeline: %s", line)
		}
	}

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("evaluation pipeline failed: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("evaluation pipeline failed: %w", err)
	}

	report, err := LoadReport(in.OutputPath)
	if err != nil {
		return nil, err
	}

	return &Result{Decision: report.Decision}, nil
}

// parseProgressLine は進捗行を分解します。進捗行でない場合は ok=false を返します。
func parseProgressLine(line string) (message string, percent int, ok bool) {
	if !strings.HasPrefix(line, progressPrefix) {
		return "", 0, false
	}
	rest := strings.TrimPrefix(line, progressPrefix)
	fields := strings.SplitN(rest, " ", 2)
	value, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return "", 0, false
	}
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	if len(fields) == 2 {
		message = strings.TrimSpace(fields[1])
	}
	return message, value, true
}
