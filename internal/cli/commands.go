package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/cycle"
	"github.com/colthorp/healthsync-go/internal/domain"
	"github.com/colthorp/healthsync-go/internal/output"
)

func init() {
	// Add all subcommands
	rootCmd.AddCommand(phaseCmd, profileCmd, mealsCmd, weightCmd, workoutCmd, checkinCmd,
		planCmd, insightCmd, journalCmd, challengeCmd, limitsCmd, cacheCmd, mcpCmd)

	profileCmd.AddCommand(profileShowCmd, profileSetCmd)
	mealsCmd.AddCommand(mealsListCmd, mealsLogCmd, mealsDeleteCmd, mealsPhotoCmd)
	weightCmd.AddCommand(weightLogCmd)
	workoutCmd.AddCommand(workoutListCmd, workoutLogCmd)
	planCmd.AddCommand(planShowCmd, planCompleteDayCmd, planLogSlotCmd, planGenerateCmd)
	insightCmd.AddCommand(insightCycleCmd, insightSymptomsCmd, insightPatternsCmd)
	journalCmd.AddCommand(journalListCmd, journalAddCmd, journalDeleteCmd)
	challengeCmd.AddCommand(challengeListCmd, challengeJoinCmd, challengeProgressCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)

	// Phase command flags
	phaseCmd.Flags().String("anchor", "", "First day of the last period (date spec); defaults to the profile")
	phaseCmd.Flags().Int("length", 0, fmt.Sprintf("Cycle length in days (default: profile or %d)", core.DefaultCycleLength))
	phaseCmd.Flags().String("date", "", "Day to compute (date spec, default today)")

	// Profile flags
	profileSetCmd.Flags().String("name", "", "Display name")
	profileSetCmd.Flags().String("anchor", "", "First day of the last period (date spec)")
	profileSetCmd.Flags().Int("length", 0, "Cycle length in days")
	profileSetCmd.Flags().String("goal", "", "Fitness or nutrition goal")
	profileSetCmd.Flags().Int("calories", 0, "Daily calorie goal")

	// Meal flags
	mealsLogCmd.Flags().String("name", "", "Meal name (required)")
	mealsLogCmd.Flags().String("type", "", "Meal type (breakfast, lunch, dinner, snack)")
	mealsLogCmd.Flags().Float64("calories", 0, "Calories")
	mealsLogCmd.Flags().Float64("protein", 0, "Protein in grams")
	mealsLogCmd.Flags().Float64("carbs", 0, "Carbohydrates in grams")
	mealsLogCmd.Flags().Float64("fat", 0, "Fat in grams")
	mealsLogCmd.Flags().String("date", "", "Day the meal was eaten (date spec, default today)")
	_ = mealsLogCmd.MarkFlagRequired("name")
	mealsPhotoCmd.Flags().Bool("log", false, "Log the estimated meal")

	// Fitness flags
	weightLogCmd.Flags().String("date", "", "Day of the weigh-in (date spec, default today)")
	workoutLogCmd.Flags().String("kind", "", "Workout kind (required)")
	workoutLogCmd.Flags().Int("minutes", 0, "Duration in minutes (required)")
	workoutLogCmd.Flags().Float64("calories", 0, "Calories burned")
	workoutLogCmd.Flags().String("notes", "", "Free-form notes")
	workoutLogCmd.Flags().String("date", "", "Day of the workout (date spec, default today)")

	// Check-in flags
	checkinCmd.Flags().String("date", "", "Day of the check-in (date spec, default today)")
	checkinCmd.Flags().Int("mood", 0, "Mood 1-5")
	checkinCmd.Flags().Int("energy", 0, "Energy 1-5")
	checkinCmd.Flags().String("symptoms", "", "Comma-separated symptoms")
	checkinCmd.Flags().Bool("period", false, "Period started or ongoing on this day")
	checkinCmd.Flags().String("notes", "", "Free-form notes")

	// Plan flags
	planShowCmd.Flags().Bool("meals", false, "Show the meal plan instead of the workout plan")
	planGenerateCmd.Flags().String("goal", "", "Goal for the new plan (default: profile goal)")
	planGenerateCmd.Flags().Int("days", 30, "Workout plan length in days")
	planGenerateCmd.Flags().Bool("meals", false, "Generate a weekly meal plan instead of a workout plan")

	insightSymptomsCmd.Flags().String("phase", "", "Cycle phase (default: current phase)")
	journalAddCmd.Flags().Int("mood", 0, "Mood 1-5")
}

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Show the cycle phase for a day",
	RunE:  handlePhase,
}

var profileCmd = &cobra.Command{Use: "profile", Short: "Show or edit your profile"}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the profile",
	RunE:  withApp(handleProfileShow),
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update profile fields; unset flags are left alone",
	RunE:  withApp(handleProfileSet),
}

var mealsCmd = &cobra.Command{Use: "meals", Short: "Today's meals"}

var mealsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List today's meals with totals",
	RunE:  withApp(handleMealsList),
}

var mealsLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Log a meal",
	RunE:  withApp(handleMealsLog),
}

var mealsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete one of today's meals",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(handleMealsDelete),
}

var mealsPhotoCmd = &cobra.Command{
	Use:   "photo [image-file]",
	Short: "Estimate a meal from a photo",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(handleMealsPhoto),
}

var weightCmd = &cobra.Command{Use: "weight", Short: "Weigh-ins"}

var weightLogCmd = &cobra.Command{
	Use:   "log [kg]",
	Short: "Log a weigh-in",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(handleWeightLog),
}

var workoutCmd = &cobra.Command{Use: "workout", Short: "Workout history"}

var workoutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent workouts",
	RunE:  withApp(handleWorkoutList),
}

var workoutLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Log a workout",
	RunE:  withApp(handleWorkoutLog),
}

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Record the daily check-in",
	RunE:  withApp(handleCheckin),
}

var planCmd = &cobra.Command{Use: "plan", Short: "Workout and meal plans"}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active plan",
	RunE:  withApp(handlePlanShow),
}

var planCompleteDayCmd = &cobra.Command{
	Use:   "complete-day [day]",
	Short: "Mark a workout plan day as completed",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(handlePlanCompleteDay),
}

var planLogSlotCmd = &cobra.Command{
	Use:   "log-slot [day] [kind]",
	Short: "Log a meal plan slot as eaten",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(handlePlanLogSlot),
}

var planGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new plan",
	RunE:  withApp(handlePlanGenerate),
}

var insightCmd = &cobra.Command{Use: "insight", Short: "AI insights"}

var insightCycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Insight for the current cycle phase",
	RunE:  withApp(handleInsightCycle),
}

var insightSymptomsCmd = &cobra.Command{
	Use:   "symptoms",
	Short: "Symptom relief suggestions for a phase",
	RunE:  withApp(handleInsightSymptoms),
}

var insightPatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Patterns across recent journal entries",
	RunE:  withApp(handleInsightPatterns),
}

var journalCmd = &cobra.Command{Use: "journal", Short: "Journal entries"}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent entries",
	RunE:  withApp(handleJournalList),
}

var journalAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Add an entry",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(handleJournalAdd),
}

var journalDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(handleJournalDelete),
}

var challengeCmd = &cobra.Command{Use: "challenge", Short: "Community challenges"}

var challengeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List challenges and your progress",
	RunE:  withApp(handleChallengeList),
}

var challengeJoinCmd = &cobra.Command{
	Use:   "join [id]",
	Short: "Join a challenge",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(handleChallengeJoin),
}

var challengeProgressCmd = &cobra.Command{
	Use:   "progress [id] [value]",
	Short: "Record progress on a joined challenge",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(handleChallengeProgress),
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show remaining requests per rate-limit class",
	RunE:  withApp(handleLimits),
}

var cacheCmd = &cobra.Command{Use: "cache", Short: "Inspect the local cache"}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and hit counts",
	RunE:  withApp(handleCacheStats),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached entry of the current user",
	RunE:  withApp(handleCacheClear),
}

// mcpCmd starts the MCP server
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI integration",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		return newMCPServer(a, cmd.OutOrStdout()).serve(ctx, cmd.InOrStdin())
	}),
}

// emit writes v as JSON with --raw, otherwise with human.
func emit(cmd *cobra.Command, v interface{}, human func(w io.Writer) error) error {
	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), v)
	}
	return human(cmd.OutOrStdout())
}

// dayFlag parses a date-spec flag relative to now. An empty flag is today.
func dayFlag(cmd *cobra.Command, name string, now time.Time) (time.Time, error) {
	spec, _ := cmd.Flags().GetString(name)
	if spec == "" {
		return core.DateOnly(now), nil
	}
	return core.ParseDateSpec(spec, now)
}

// atDay moves now onto day, keeping the time of day. Today returns now unchanged.
func atDay(day, now time.Time) time.Time {
	if core.FormatDate(day) == core.FormatDate(now) {
		return now
	}
	return time.Date(day.Year(), day.Month(), day.Day(), now.Hour(), now.Minute(), now.Second(), 0, now.Location())
}

func handlePhase(cmd *cobra.Command, args []string) error {
	anchorSpec, _ := cmd.Flags().GetString("anchor")
	length, _ := cmd.Flags().GetInt("length")

	if anchorSpec != "" {
		now := time.Now().In(core.GetTZ(timezone))
		return printPhase(cmd, anchorSpec, length, now)
	}
	return withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		anchor, profileLength, ok := a.svc.Profile.Anchor()
		if !ok {
			return fmt.Errorf("no cycle anchor recorded; pass --anchor or run `healthsync profile set --anchor`")
		}
		if length == 0 {
			length = profileLength
		}
		return printPhase(cmd, core.FormatDate(anchor), length, a.now())
	})(cmd, args)
}

func printPhase(cmd *cobra.Command, anchorSpec string, length int, now time.Time) error {
	anchor, err := core.ParseDateSpec(anchorSpec, now)
	if err != nil {
		return err
	}
	day, err := dayFlag(cmd, "date", now)
	if err != nil {
		return err
	}
	if length < 1 {
		length = core.DefaultCycleLength
	}
	res := cycle.Calculate(anchor, length, day)
	return emit(cmd, res, func(w io.Writer) error {
		return output.PrintFields(w,
			output.Field{Label: "date", Value: core.FormatDate(day)},
			output.Field{Label: "phase", Value: res.Phase},
			output.Field{Label: "day", Value: fmt.Sprintf("%d of %d", res.DayOfCycle, length)},
			output.Field{Label: "predicted period", Value: res.IsPredictedPeriod},
		)
	})
}

func handleProfileShow(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	p, ok := a.svc.Profile.Profile()
	if !ok {
		return emit(cmd, nil, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, "no profile yet; run `healthsync profile set`")
			return err
		})
	}
	return emit(cmd, p, func(w io.Writer) error {
		return output.PrintFields(w,
			output.Field{Label: "name", Value: p.DisplayName},
			output.Field{Label: "cycle anchor", Value: p.CycleAnchor},
			output.Field{Label: "cycle length", Value: p.CycleLength},
			output.Field{Label: "goal", Value: p.Goal},
			output.Field{Label: "calorie goal", Value: p.CalorieGoal},
		)
	})
}

func handleProfileSet(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	var u domain.ProfileUpdate
	flags := cmd.Flags()
	if flags.Changed("name") {
		v, _ := flags.GetString("name")
		u.DisplayName = &v
	}
	if flags.Changed("anchor") {
		spec, _ := flags.GetString("anchor")
		day, err := core.ParseDateSpec(spec, a.now())
		if err != nil {
			return err
		}
		v := core.FormatDate(day)
		u.CycleAnchor = &v
	}
	if flags.Changed("length") {
		v, _ := flags.GetInt("length")
		u.CycleLength = &v
	}
	if flags.Changed("goal") {
		v, _ := flags.GetString("goal")
		u.Goal = &v
	}
	if flags.Changed("calories") {
		v, _ := flags.GetInt("calories")
		u.CalorieGoal = &v
	}
	p, err := a.svc.Profile.Update(ctx, u)
	if err != nil {
		return err
	}
	core.ProgressPrint("Profile updated.", quiet)
	return emit(cmd, p, func(w io.Writer) error { return nil })
}

func handleMealsList(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	meals := a.svc.Nutrition.Meals()
	totals := a.svc.Nutrition.DailyTotals()
	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), map[string]interface{}{"meals": meals, "totals": totals})
	}
	w := cmd.OutOrStdout()
	tbl := output.Table{Headers: []string{"ID", "TIME", "TYPE", "NAME", "KCAL", "P", "C", "F"}}
	for _, m := range meals {
		tbl.Append(m.ID, m.LoggedAt.In(a.now().Location()).Format("15:04"), m.MealType, m.Name, m.Calories, m.ProteinG, m.CarbsG, m.FatG)
	}
	if err := tbl.Print(w, "no meals logged today"); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "total: %g kcal, %gg protein, %gg carbs, %gg fat\n", totals.Calories, totals.ProteinG, totals.CarbsG, totals.FatG)
	return err
}

func handleMealsLog(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	now := a.now()
	day, err := dayFlag(cmd, "date", now)
	if err != nil {
		return err
	}
	in := domain.MealInput{LoggedAt: atDay(day, now)}
	in.Name, _ = flags.GetString("name")
	in.MealType, _ = flags.GetString("type")
	in.Calories, _ = flags.GetFloat64("calories")
	in.ProteinG, _ = flags.GetFloat64("protein")
	in.CarbsG, _ = flags.GetFloat64("carbs")
	in.FatG, _ = flags.GetFloat64("fat")

	meal, err := a.svc.Nutrition.LogMeal(ctx, in)
	if err != nil {
		return err
	}
	return emit(cmd, meal, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "logged %s (%g kcal) as %s\n", meal.Name, meal.Calories, meal.ID)
		return err
	})
}

func handleMealsDelete(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	if err := a.svc.Nutrition.DeleteMeal(ctx, args[0]); err != nil {
		return err
	}
	core.ProgressPrint(fmt.Sprintf("Deleted meal %s.", args[0]), quiet)
	return nil
}

func handleMealsPhoto(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	core.ProgressPrint("Analyzing photo…", quiet)
	est, err := a.svc.Nutrition.AnalyzeMealPhoto(ctx, base64.StdEncoding.EncodeToString(data))
	if err != nil {
		return err
	}
	if logIt, _ := cmd.Flags().GetBool("log"); logIt {
		meal, err := a.svc.Nutrition.LogMeal(ctx, domain.MealInput{
			Name:     est.Name,
			Calories: est.Calories,
			ProteinG: est.ProteinG,
			CarbsG:   est.CarbsG,
			FatG:     est.FatG,
			Source:   "photo",
		})
		if err != nil {
			return err
		}
		core.ProgressPrint(fmt.Sprintf("Logged as %s.", meal.ID), quiet)
	}
	return emit(cmd, est, func(w io.Writer) error {
		return output.PrintFields(w,
			output.Field{Label: "name", Value: est.Name},
			output.Field{Label: "calories", Value: est.Calories},
			output.Field{Label: "protein", Value: fmt.Sprintf("%gg", est.ProteinG)},
			output.Field{Label: "carbs", Value: fmt.Sprintf("%gg", est.CarbsG)},
			output.Field{Label: "fat", Value: fmt.Sprintf("%gg", est.FatG)},
			output.Field{Label: "confidence", Value: est.Confidence},
		)
	})
}

func handleWeightLog(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	var kg float64
	if _, err := fmt.Sscanf(args[0], "%g", &kg); err != nil {
		return fmt.Errorf("invalid weight %q", args[0])
	}
	now := a.now()
	day, err := dayFlag(cmd, "date", now)
	if err != nil {
		return err
	}
	e, err := a.svc.Fitness.LogWeight(ctx, kg, atDay(day, now))
	if err != nil {
		return err
	}
	return emit(cmd, e, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "logged %g kg on %s\n", e.WeightKg, core.FormatDate(e.LoggedAt))
		return err
	})
}

func handleWorkoutList(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	workouts := a.svc.Fitness.Workouts()
	return emit(cmd, workouts, func(w io.Writer) error {
		tbl := output.Table{Headers: []string{"DATE", "KIND", "MIN", "KCAL", "NOTES"}}
		for _, wo := range workouts {
			tbl.Append(core.FormatDate(wo.PerformedAt), wo.Kind, wo.DurationMin, wo.Calories, wo.Notes)
		}
		if err := tbl.Print(w, "no workouts logged"); err != nil {
			return err
		}
		if latest, ok := a.svc.Fitness.LatestWeight(); ok {
			_, err := fmt.Fprintf(w, "latest weight: %g kg (%s)\n", latest.WeightKg, core.FormatDate(latest.LoggedAt))
			return err
		}
		return nil
	})
}

func handleWorkoutLog(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	now := a.now()
	day, err := dayFlag(cmd, "date", now)
	if err != nil {
		return err
	}
	in := domain.WorkoutInput{PerformedAt: atDay(day, now)}
	in.Kind, _ = flags.GetString("kind")
	in.DurationMin, _ = flags.GetInt("minutes")
	in.Calories, _ = flags.GetFloat64("calories")
	in.Notes, _ = flags.GetString("notes")

	wo, err := a.svc.Fitness.LogWorkout(ctx, in)
	if err != nil {
		return err
	}
	return emit(cmd, wo, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "logged %d min of %s\n", wo.DurationMin, wo.Kind)
		return err
	})
}

func handleCheckin(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	day, err := dayFlag(cmd, "date", a.now())
	if err != nil {
		return err
	}
	in := domain.CheckInInput{Date: core.FormatDate(day)}
	in.Mood, _ = flags.GetInt("mood")
	in.Energy, _ = flags.GetInt("energy")
	in.HadPeriod, _ = flags.GetBool("period")
	in.Notes, _ = flags.GetString("notes")
	if s, _ := flags.GetString("symptoms"); s != "" {
		for _, sym := range strings.Split(s, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				in.Symptoms = append(in.Symptoms, sym)
			}
		}
	}

	entry, err := a.svc.Wellness.CheckIn(ctx, in)
	if entry.ID == "" && err != nil {
		return err
	}
	if err != nil {
		// The check-in was saved; only the cycle anchor update failed.
		a.log.WithError(err).Warn("check-in saved without moving the cycle anchor")
	}
	return emit(cmd, entry, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "checked in for %s\n", entry.LogDate)
		return err
	})
}

func handlePlanShow(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	if meals, _ := cmd.Flags().GetBool("meals"); meals {
		p, ok := a.svc.Nutrition.MealPlan()
		if !ok {
			return fmt.Errorf("no meal plan; run `healthsync plan generate --meals`")
		}
		return emit(cmd, p, func(w io.Writer) error { return printMealPlan(w, p) })
	}
	p, ok := a.svc.Fitness.WorkoutPlan()
	if !ok {
		return fmt.Errorf("no workout plan; run `healthsync plan generate`")
	}
	return emit(cmd, p, func(w io.Writer) error { return printWorkoutPlan(w, p) })
}

func printWorkoutPlan(w io.Writer, p domain.WorkoutPlan) error {
	fmt.Fprintf(w, "goal: %s\n", p.Goal)
	tbl := output.Table{Headers: []string{"DAY", "DONE", "TITLE", "EXERCISES"}}
	for _, d := range p.Days {
		done := ""
		if d.IsCompleted {
			done = "x"
		}
		tbl.Append(d.Day, done, d.Title, strings.Join(d.Exercises, ", "))
	}
	return tbl.Print(w, "plan has no days")
}

func printMealPlan(w io.Writer, p domain.WeeklyMealPlan) error {
	fmt.Fprintf(w, "goal: %s\n", p.Goal)
	tbl := output.Table{Headers: []string{"DAY", "SLOT", "EATEN", "NAME", "KCAL"}}
	for _, d := range p.Days {
		for _, s := range d.Slots {
			eaten := ""
			if s.Logged {
				eaten = "x"
			}
			tbl.Append(d.Day, s.Kind, eaten, s.Name, s.Calories)
		}
	}
	return tbl.Print(w, "plan has no slots")
}

func parseDay(arg string) (int, error) {
	var day int
	if _, err := fmt.Sscanf(arg, "%d", &day); err != nil || day < 1 {
		return 0, fmt.Errorf("invalid day %q", arg)
	}
	return day, nil
}

func handlePlanCompleteDay(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	day, err := parseDay(args[0])
	if err != nil {
		return err
	}
	p, err := a.svc.Fitness.CompleteWorkoutDay(ctx, day)
	if err != nil {
		return err
	}
	return emit(cmd, p, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "day %d completed\n", day)
		return err
	})
}

func handlePlanLogSlot(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	day, err := parseDay(args[0])
	if err != nil {
		return err
	}
	p, err := a.svc.Nutrition.LogMealSlot(ctx, day, args[1])
	if err != nil {
		return err
	}
	return emit(cmd, p, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "day %d %s logged\n", day, args[1])
		return err
	})
}

func handlePlanGenerate(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	goal, _ := flags.GetString("goal")
	if goal == "" {
		if p, ok := a.svc.Profile.Profile(); ok {
			goal = p.Goal
		}
	}
	if goal == "" {
		return fmt.Errorf("no goal; pass --goal or set one with `healthsync profile set --goal`")
	}

	core.ProgressPrint("Generating plan…", quiet)
	if meals, _ := flags.GetBool("meals"); meals {
		p, err := a.svc.Nutrition.GenerateMealPlan(ctx, goal)
		if err != nil {
			return err
		}
		return emit(cmd, p, func(w io.Writer) error { return printMealPlan(w, p) })
	}
	days, _ := flags.GetInt("days")
	p, err := a.svc.Fitness.GenerateWorkoutPlan(ctx, goal, days)
	if err != nil {
		return err
	}
	return emit(cmd, p, func(w io.Writer) error { return printWorkoutPlan(w, p) })
}

func printInsight(cmd *cobra.Command, ins domain.Insight) error {
	return emit(cmd, ins, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, ins.Text)
		return err
	})
}

func handleInsightCycle(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	ins, err := a.svc.Wellness.CycleInsight(ctx)
	if err != nil {
		return err
	}
	return printInsight(cmd, ins)
}

func handleInsightSymptoms(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("phase")
	var phase cycle.Phase
	if name != "" {
		p, ok := cycle.ParsePhase(name)
		if !ok {
			return fmt.Errorf("unknown phase %q", name)
		}
		phase = p
	} else {
		res, ok := a.svc.Wellness.Phase()
		if !ok {
			return fmt.Errorf("no current phase; pass --phase")
		}
		phase = res.Phase
	}
	suggestions, err := a.svc.Wellness.SymptomSuggestions(ctx, phase)
	if err != nil {
		return err
	}
	return emit(cmd, suggestions, func(w io.Writer) error {
		for _, s := range suggestions {
			if _, err := fmt.Fprintf(w, "- %s\n", s); err != nil {
				return err
			}
		}
		return nil
	})
}

func handleInsightPatterns(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	ins, err := a.svc.Journal.PatternInsight(ctx)
	if err != nil {
		return err
	}
	return printInsight(cmd, ins)
}

func handleJournalList(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	entries := a.svc.Journal.Entries()
	return emit(cmd, entries, func(w io.Writer) error {
		tbl := output.Table{Headers: []string{"ID", "DATE", "MOOD", "TEXT"}}
		for _, e := range entries {
			tbl.Append(e.ID, core.FormatDate(e.CreatedAt), e.Mood, e.Content)
		}
		return tbl.Print(w, "journal is empty")
	})
}

func handleJournalAdd(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	mood, _ := cmd.Flags().GetInt("mood")
	e, err := a.svc.Journal.AddEntry(ctx, strings.Join(args, " "), mood)
	if err != nil {
		return err
	}
	return emit(cmd, e, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "added entry %s\n", e.ID)
		return err
	})
}

func handleJournalDelete(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	if err := a.svc.Journal.DeleteEntry(ctx, args[0]); err != nil {
		return err
	}
	core.ProgressPrint(fmt.Sprintf("Deleted entry %s.", args[0]), quiet)
	return nil
}

func handleChallengeList(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	challenges := a.svc.Community.Challenges()
	parts := a.svc.Community.Participations()
	achievements := a.svc.Community.Achievements()
	if raw {
		return output.PrintJSON(cmd.OutOrStdout(), map[string]interface{}{
			"challenges":     challenges,
			"participations": parts,
			"achievements":   achievements,
		})
	}
	progress := make(map[string]domain.Participation, len(parts))
	for _, p := range parts {
		progress[p.ChallengeID] = p
	}
	w := cmd.OutOrStdout()
	tbl := output.Table{Headers: []string{"ID", "TITLE", "TARGET", "PROGRESS"}}
	for _, c := range challenges {
		status := "-"
		if p, ok := progress[c.ID]; ok {
			status = fmt.Sprintf("%g %s", p.Progress, c.Unit)
			if p.Completed {
				status += " (done)"
			}
		}
		tbl.Append(c.ID, c.Title, fmt.Sprintf("%g %s", c.Target, c.Unit), status)
	}
	if err := tbl.Print(w, "no challenges"); err != nil {
		return err
	}
	fmt.Fprintf(w, "achievements: %d\n", len(achievements))
	return nil
}

func handleChallengeJoin(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	p, err := a.svc.Community.JoinChallenge(ctx, args[0])
	if err != nil {
		return err
	}
	return emit(cmd, p, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "joined %s\n", p.ChallengeID)
		return err
	})
}

func handleChallengeProgress(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	var value float64
	if _, err := fmt.Sscanf(args[1], "%g", &value); err != nil {
		return fmt.Errorf("invalid progress %q", args[1])
	}
	p, err := a.svc.Community.UpdateChallengeProgress(ctx, args[0], value)
	if err != nil {
		return err
	}
	return emit(cmd, p, func(w io.Writer) error {
		msg := fmt.Sprintf("progress %g", p.Progress)
		if p.Completed {
			msg += ", challenge completed"
		}
		_, err := fmt.Fprintln(w, msg)
		return err
	})
}

type limitStatus struct {
	Class     string    `json:"class"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

func handleLimits(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	uid := a.userID()
	var statuses []limitStatus
	for _, l := range a.limits.All() {
		res := l.Status(uid)
		statuses = append(statuses, limitStatus{Class: l.Class(), Remaining: res.Remaining, ResetAt: res.ResetAt})
	}
	return emit(cmd, statuses, func(w io.Writer) error {
		tbl := output.Table{Headers: []string{"CLASS", "REMAINING", "RESETS"}}
		for _, s := range statuses {
			tbl.Append(s.Class, s.Remaining, core.FormatDatetime(s.ResetAt))
		}
		return tbl.Print(w, "")
	})
}

func handleCacheStats(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	stats := a.store.Stats()
	return emit(cmd, stats, func(w io.Writer) error {
		return output.PrintFields(w,
			output.Field{Label: "items", Value: stats.ItemCount},
			output.Field{Label: "size", Value: fmt.Sprintf("%d / %d bytes", stats.TotalSizeBytes, a.cfg.Cache.MaxTotalBytes)},
			output.Field{Label: "hits", Value: stats.Hits},
			output.Field{Label: "misses", Value: stats.Misses},
		)
	})
}

func handleCacheClear(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	before := a.store.Stats().ItemCount
	a.store.ClearAllForScope(core.ScopePrefix(a.userID()))
	removed := before - a.store.Stats().ItemCount
	core.ProgressPrint(fmt.Sprintf("Cleared %d cached entries.", removed), quiet)
	return nil
}
