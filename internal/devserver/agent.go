package devserver

import (
	"context"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Task is what an Agent works on: the user's goal and the context text
// extracted from the submitted data source.
type Task struct {
	Goal    string
	Context string
}

// Emitter streams progress back to the client while an agent runs.
type Emitter interface {
	Log(text string) error
	Partial(fragment string) error
}

// Agent turns a task into the final HTML report.
type Agent interface {
	Run(ctx context.Context, task Task, emit Emitter) (string, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, task Task, emit Emitter) (string, error)

func (f AgentFunc) Run(ctx context.Context, task Task, emit Emitter) (string, error) {
	return f(ctx, task, emit)
}

// Goal types recognized by DetectGoalType.
const (
	GoalStrategicPlanning   = "strategic_planning"
	GoalCompetitiveAnalysis = "competitive_analysis"
	GoalSalesAnalysis       = "sales_analysis"
	GoalProductManagement   = "product_management"
	GoalUserManagement      = "user_management"
	GoalTaskManagement      = "task_management"
	GoalFinancialAnalysis   = "financial_analysis"
	GoalDataAnalysis        = "data_analysis"
	GoalSummary             = "summary"
	GoalPlanning            = "planning"
	GoalGeneral             = "general"
)

type goalKeywords struct {
	goalType string
	keywords []string
}

// Ordered from most to least specific; the first match wins.
var goalTypes = []goalKeywords{
	{GoalSummary, []string{"resumo", "resumir", "sintetizar", "síntese", "sumarizar", "sumário executivo", "executive summary"}},
	{GoalStrategicPlanning, []string{"planejamento estratégico", "plano estratégico", "estratégia empresarial", "missão", "visão estratégica", "okr", "swot", "balanced scorecard", "plano de negócios"}},
	{GoalCompetitiveAnalysis, []string{"concorrência", "concorrentes", "benchmarking", "competitiv", "market share", "participação de mercado", "rival"}},
	{GoalSalesAnalysis, []string{"vendas", "receita", "faturamento", "conversão", "pipeline", "crm", "leads", "ticket médio", "churn", "forecast"}},
	{GoalProductManagement, []string{"produto", "roadmap", "backlog", "mvp", "features", "lançamento"}},
	{GoalUserManagement, []string{"usuários", "usuario", "ux", "personas", "jornada", "segmentação", "engajamento"}},
	{GoalTaskManagement, []string{"tarefas", "sprint", "scrum", "kanban", "cronograma", "projeto"}},
	{GoalFinancialAnalysis, []string{"financeir", "orçamento", "fluxo de caixa", "margem", "lucro", "ebitda", "custo"}},
	{GoalDataAnalysis, []string{"dados", "estatística", "dashboard", "métricas", "kpi", "analytics"}},
	{GoalPlanning, []string{"plano", "planejamento", "planejar", "agenda", "organização"}},
}

// DetectGoalType classifies a goal by keywords found in the goal and its
// context.
func DetectGoalType(goal, context string) string {
	text := strings.ToLower(goal + " " + context)
	for _, g := range goalTypes {
		if containsAny(text, g.keywords) {
			return g.goalType
		}
	}
	return GoalGeneral
}

// DetectRelatedTypes lists every goal type with at least one keyword in the
// goal or context, in detection order. It falls back to the primary type.
func DetectRelatedTypes(goal, context string) []string {
	text := strings.ToLower(goal + " " + context)

	var types []string
	for _, g := range goalTypes {
		if containsAny(text, g.keywords) {
			types = append(types, g.goalType)
		}
	}
	if len(types) == 0 {
		types = append(types, DetectGoalType(goal, context))
	}
	return types
}

func containsAny(text string, keywords []string) bool {
	return slices.ContainsFunc(keywords, func(k string) bool {
		return strings.Contains(text, k)
	})
}

type reportTemplate struct {
	title    string
	sections []string
}

var reportTemplates = map[string]reportTemplate{
	GoalStrategicPlanning: {
		title:    "Análise de Planejamento Estratégico",
		sections: []string{"Resumo executivo", "Análise da situação atual", "Análise SWOT", "Objetivos estratégicos", "Estratégias e ações", "Indicadores e métricas", "Considerações finais"},
	},
	GoalCompetitiveAnalysis: {
		title:    "Análise de Concorrência",
		sections: []string{"Resumo executivo", "Visão geral do mercado", "Mapeamento de concorrentes", "Análise comparativa", "Posicionamento competitivo", "Oportunidades e ameaças", "Conclusões"},
	},
	GoalSalesAnalysis: {
		title:    "Análise de Vendas",
		sections: []string{"Resumo executivo", "Desempenho do período", "Produtos e regiões", "Funil e conversão", "Recomendações comerciais"},
	},
	GoalProductManagement: {
		title:    "Análise de Portfólio de Produtos",
		sections: []string{"Resumo executivo", "Portfólio atual", "Avaliação dos clientes", "Roadmap sugerido", "Próximos passos"},
	},
	GoalUserManagement: {
		title:    "Análise de Usuários",
		sections: []string{"Resumo executivo", "Perfil da base", "Engajamento e retenção", "Segmentos prioritários", "Recomendações"},
	},
	GoalTaskManagement: {
		title:    "Análise de Tarefas do Projeto",
		sections: []string{"Resumo executivo", "Situação do backlog", "Riscos e bloqueios", "Plano para a próxima sprint"},
	},
	GoalSummary: {
		title:    "Resumo",
		sections: []string{"Pontos principais", "Conclusão"},
	},
}

func templateFor(goalType, goal string) reportTemplate {
	if t, ok := reportTemplates[goalType]; ok {
		return t
	}
	return reportTemplate{
		title:    "Análise: " + strings.TrimSpace(goal),
		sections: []string{"Introdução", "Contexto e fundamentação", "Desenvolvimento", "Resultados e descobertas", "Recomendações", "Conclusão"},
	}
}

// ReportAgent writes a structured HTML report without calling any model. It
// picks an outline from the detected goal type and fills it with what it
// can read from the context.
type ReportAgent struct {
	// Step is the pause between sections.
	Step time.Duration
}

func (a ReportAgent) Run(ctx context.Context, task Task, emit Emitter) (string, error) {
	goalType := DetectGoalType(task.Goal, task.Context)
	related := DetectRelatedTypes(task.Goal, task.Context)

	if err := emit.Log("[INFO] Tipo principal detectado: " + goalType); err != nil {
		return "", err
	}
	if err := emit.Log("[INFO] Tipos relacionados detectados: " + strings.Join(related, ", ")); err != nil {
		return "", err
	}

	tmpl := templateFor(goalType, task.Goal)

	if err := emit.Log("[INFO] Agente pesquisador estruturando a análise"); err != nil {
		return "", err
	}
	if err := emit.Partial(renderOutline(tmpl)); err != nil {
		return "", err
	}

	if err := emit.Log("[INFO] Agente redator desenvolvendo o conteúdo"); err != nil {
		return "", err
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<h1>%s</h1>\n", html.EscapeString(tmpl.title))
	fmt.Fprintf(&body, "<p><strong>Objetivo:</strong> %s</p>\n", html.EscapeString(task.Goal))

	for i, section := range tmpl.sections {
		if err := pause(ctx, a.Step); err != nil {
			return "", err
		}

		fmt.Fprintf(&body, "<h2>%d. %s</h2>\n", i+1, html.EscapeString(section))
		fmt.Fprintf(&body, "<p>%s</p>\n", html.EscapeString(sectionText(section, task)))

		if err := emit.Log(fmt.Sprintf("[INFO] Seção concluída: %s", section)); err != nil {
			return "", err
		}
	}

	if excerpt := contextExcerpt(task.Context, 20); excerpt != "" {
		body.WriteString("<h2>Dados analisados</h2>\n")
		fmt.Fprintf(&body, "<pre>%s</pre>\n", html.EscapeString(excerpt))
	}

	return body.String(), nil
}

func renderOutline(tmpl reportTemplate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>\n<ol>\n", html.EscapeString(tmpl.title))
	for _, section := range tmpl.sections {
		fmt.Fprintf(&b, "  <li>%s</li>\n", html.EscapeString(section))
	}
	b.WriteString("</ol>")
	return b.String()
}

func sectionText(section string, task Task) string {
	if task.Context == noContext {
		return fmt.Sprintf("%s elaborado a partir do objetivo informado, sem dados de apoio.", section)
	}

	lines := strings.Count(task.Context, "\n") + 1
	return fmt.Sprintf("%s elaborado a partir do objetivo informado e de %d linhas de contexto (%d caracteres).",
		section, lines, utf8.RuneCountInString(task.Context))
}

func contextExcerpt(context string, maxLines int) string {
	if context == noContext || strings.TrimSpace(context) == "" {
		return ""
	}

	lines := strings.Split(context, "\n")
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "...")
	}
	return strings.Join(lines, "\n")
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
