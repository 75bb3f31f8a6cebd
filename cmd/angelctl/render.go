package main

import (
	"fmt"
	"io"

	"github.com/ashureev/angel-console/internal/domain"
	"github.com/ashureev/angel-console/internal/venture"
)

func renderView(w io.Writer, v venture.View) {
	fmt.Fprintf(w, "\n[%s %s]\n", v.State, v.ProgressLabel)
	if v.Banner == domain.TransitionKYCToBusinessPlan {
		fmt.Fprintln(w, "Profile complete. Moving on to your business plan.")
	}

	switch v.Screen {
	case venture.ScreenPlanSummary:
		fmt.Fprintf(w, "Business plan summary:\n\n%s\n\n", v.Transition.BusinessPlanSummary)
		fmt.Fprintln(w, "Type :approve to generate your roadmap or :revisit to rework the plan.")
	case venture.ScreenRoadmap:
		fmt.Fprintf(w, "%s\n\n", v.Roadmap)
		fmt.Fprintln(w, "Type :implement when you are ready to start.")
	case venture.ScreenImplementation:
		fmt.Fprintln(w, "Your roadmap is ready for implementation. Type :start to begin.")
	case venture.ScreenTasks:
		renderTask(w, v.Task)
		fmt.Fprintln(w, "Type :done when you have finished it.")
	case venture.ScreenComplete:
		fmt.Fprintln(w, "All tasks complete.")
	default:
		renderQuestion(w, v)
	}
}

func renderQuestion(w io.Writer, v venture.View) {
	if v.ImmediateResponse != "" {
		fmt.Fprintf(w, "%s\n\n", v.ImmediateResponse)
	}
	if v.WebSearch != nil && v.WebSearch.Query != "" {
		fmt.Fprintf(w, "(searched the web for %q)\n", v.WebSearch.Query)
	}
	if v.QuestionNumber != nil {
		fmt.Fprintf(w, "Q%d. ", *v.QuestionNumber)
	}
	fmt.Fprintln(w, v.Question)
	if v.ShowAcceptModify {
		fmt.Fprintln(w, `(Answer "Accept" to keep this, or write what to change.)`)
	}
}

func renderTask(w io.Writer, t *domain.Task) {
	if t == nil {
		fmt.Fprintln(w, "All tasks complete.")
		return
	}
	fmt.Fprintf(w, "Task: %s\n", t.Title)
	if t.Milestone != "" {
		fmt.Fprintf(w, "Milestone: %s\n", t.Milestone)
	}
	if t.Description != "" {
		fmt.Fprintf(w, "\n%s\n", t.Description)
	}
	if t.Purpose != "" {
		fmt.Fprintf(w, "\nWhy: %s\n", t.Purpose)
	}
	for i, opt := range t.Options {
		fmt.Fprintf(w, "  %d. %s\n", i+1, opt)
	}
}
