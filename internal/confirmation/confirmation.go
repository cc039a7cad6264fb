package confirmation

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"migration-guard/internal/display"
)

// Operation describes a destructive action awaiting operator approval
type Operation struct {
	Name     string
	Database string
	Summary  map[string]string
	Details  []string
	Warnings []string
}

// Service prompts the operator before destructive operations run
type Service interface {
	Confirm(op Operation, autoApprove bool) (bool, error)
	DisplayOperationSummary(op Operation)
	HandleInterruption() error
}

type service struct {
	display display.DisplayService
	reader  *bufio.Reader
}

// NewService creates a confirmation service writing to the terminal
func NewService(ds display.DisplayService) Service {
	if ds == nil {
		ds = display.NewDefaultDisplayService()
	}
	return &service{
		display: ds,
		reader:  bufio.NewReader(os.Stdin),
	}
}

// Confirm shows the operation summary and waits for approval. SIGINT and
// SIGTERM cancel the prompt instead of killing the process mid-read.
func (s *service) Confirm(op Operation, autoApprove bool) (bool, error) {
	s.DisplayOperationSummary(op)

	if autoApprove {
		s.display.Success("Auto-approving operation")
		return true, nil
	}

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interruptChan)

	for {
		inputChan := make(chan string, 1)
		errorChan := make(chan error, 1)

		go func() {
			input, err := s.prompt(op)
			if err != nil {
				errorChan <- err
				return
			}
			inputChan <- input
		}()

		select {
		case <-interruptChan:
			s.display.Warning("Operation cancelled by user")
			return false, s.HandleInterruption()
		case err := <-errorChan:
			return false, fmt.Errorf("failed to read user input: %w", err)
		case input := <-inputChan:
			switch strings.ToLower(strings.TrimSpace(input)) {
			case "y", "yes":
				return true, nil
			case "n", "no", "":
				s.display.Info("Operation cancelled by user")
				return false, nil
			case "d", "details":
				s.displayDetails(op)
				continue
			default:
				fmt.Printf("Invalid input %q. Enter 'y' for yes, 'n' for no, or 'd' for details.\n", input)
				continue
			}
		}
	}
}

// DisplayOperationSummary shows what the operation will touch and any
// warnings before the operator decides
func (s *service) DisplayOperationSummary(op Operation) {
	s.display.PrintHeader(fmt.Sprintf("Destructive operation: %s", op.Name))

	fields := map[string]string{"Database": op.Database}
	for k, v := range op.Summary {
		fields[k] = v
	}
	s.display.PrintSummary("Operation scope", fields)

	for _, warning := range op.Warnings {
		s.display.Warning(warning)
	}
	if len(op.Warnings) == 0 {
		s.display.Warning("This operation may modify or discard data. Review the scope before proceeding.")
	}
}

func (s *service) prompt(op Operation) (string, error) {
	if len(op.Details) > 0 {
		fmt.Printf("Proceed with %s? [y/N/d]: ", op.Name)
	} else {
		fmt.Printf("Proceed with %s? [y/N]: ", op.Name)
	}

	input, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func (s *service) displayDetails(op Operation) {
	if len(op.Details) == 0 {
		fmt.Println("No further details available.")
		return
	}
	s.display.PrintHeader("Operation details")
	for i, line := range op.Details {
		fmt.Printf("%d. %s\n", i+1, line)
	}
	fmt.Println()
}

// HandleInterruption runs after the operator aborts the prompt
func (s *service) HandleInterruption() error {
	fmt.Println("Cleaning up...")
	return nil
}
