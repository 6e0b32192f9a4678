package main

import (
	"fmt"
	"strings"

	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/modes"
)

// DefaultMaxIterations bounds a ralph loop started without an explicit
// "iterations=" argument (spec §4.4 "Ralph loop" default).
const DefaultMaxIterations = 20

// DefaultMaxCycles bounds an ultraqa run started without an explicit
// "cycles=" argument (spec §4.4 "Ultraqa" default).
const DefaultMaxCycles = 10

// slashCommand is one recognized "/word" prefix and the mode it starts.
// swarm is deliberately absent: spec §4.8's StartSwarm needs a structured
// task list, not a free-text prompt tail, so swarm lifecycle stays operator-
// driven (cmd/omc-swarmctl) rather than chat-driven.
type slashCommand struct {
	name domain.ModeName
	run  func(sid, root, arg string) (string, error)
}

var slashCommands = map[string]slashCommand{
	"/ralph": {
		name: domain.ModeRalph,
		run: func(sid, root, arg string) (string, error) {
			return startRalph(sid, root, arg, false)
		},
	},
	"/ralph-prd": {
		name: domain.ModeRalph,
		run: func(sid, root, arg string) (string, error) {
			return startRalph(sid, root, arg, true)
		},
	},
	"/ultrawork": {
		name: domain.ModeUltrawork,
		run: func(sid, root, arg string) (string, error) {
			if _, err := modes.ActivateUltrawork(sid, root, arg); err != nil {
				return "", err
			}
			return "Ultrawork engaged.", nil
		},
	},
	"/ultraqa": {
		name: domain.ModeUltraQA,
		run: func(sid, root, arg string) (string, error) {
			goalType, pattern := parseUltraQAArg(arg)
			if _, err := modes.StartUltraQA(sid, root, goalType, pattern, DefaultMaxCycles); err != nil {
				return "", err
			}
			return fmt.Sprintf("Ultraqa started (goal=%s).", goalType), nil
		},
	},
	"/autopilot": {
		name: domain.ModeAutopilot,
		run: func(sid, root, arg string) (string, error) {
			if _, err := modes.StartAutopilot(sid, root, 3); err != nil {
				return "", err
			}
			return "Autopilot engaged: expansion phase.", nil
		},
	},
	"/team-pipeline": {
		name: domain.ModeTeamPipeline,
		run: func(sid, root, arg string) (string, error) {
			if _, err := modes.StartTeamPipeline(sid, root); err != nil {
				return "", err
			}
			return "Team pipeline started: team-plan phase.", nil
		},
	},
	"/ultrapilot": {
		name: domain.ModeUltrapilot,
		run: func(sid, root, arg string) (string, error) {
			if _, err := modes.StartUltrapilot(sid, root, arg); err != nil {
				return "", err
			}
			return "Ultrapilot started: decompose phase.", nil
		},
	},
}

func startRalph(sid, root, arg string, prdMode bool) (string, error) {
	if _, err := modes.StartRalph(sid, root, arg, DefaultMaxIterations, prdMode, false); err != nil {
		return "", err
	}
	return "Ralph loop started.", nil
}

// parseUltraQAArg splits "goal=tests lint flakes" into (GoalTests, "lint
// flakes"); an unrecognized or absent goal= defaults to GoalCustom with the
// whole argument as the pattern.
func parseUltraQAArg(arg string) (domain.UltraQAGoalType, string) {
	const prefix = "goal="
	fields := strings.Fields(arg)
	if len(fields) > 0 && strings.HasPrefix(fields[0], prefix) {
		switch strings.TrimPrefix(fields[0], prefix) {
		case "tests":
			return domain.GoalTests, strings.Join(fields[1:], " ")
		case "build":
			return domain.GoalBuild, strings.Join(fields[1:], " ")
		case "lint":
			return domain.GoalLint, strings.Join(fields[1:], " ")
		case "typecheck":
			return domain.GoalTypecheck, strings.Join(fields[1:], " ")
		}
	}
	return domain.GoalCustom, arg
}

// applySlashCommand recognizes a leading "/command" token in prompt and, if
// CanStartMode allows it, starts the corresponding mode (spec line 192's
// "auto-slash-command expansion"). It returns handled=false for any prompt
// that isn't a recognized slash command, leaving normal context assembly to
// run unchanged.
func applySlashCommand(sid, root, prompt string) (message string, handled bool, err error) {
	trimmed := strings.TrimSpace(prompt)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false, nil
	}

	word, arg, _ := strings.Cut(trimmed, " ")
	cmd, ok := slashCommands[strings.ToLower(word)]
	if !ok {
		return "", false, nil
	}
	arg = strings.TrimSpace(arg)

	check, err := modes.CanStartMode(cmd.name, root)
	if err != nil {
		return "", true, err
	}
	if !check.Allowed {
		return check.Message, true, nil
	}

	msg, err := cmd.run(sid, root, arg)
	if err != nil {
		if conflict, ok := err.(*domain.ModeConflictError); ok {
			return conflict.Message, true, nil
		}
		return "", true, err
	}
	return msg, true, nil
}
