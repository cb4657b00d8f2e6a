package push

import (
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

type journeyStep struct {
	title string
	body  string
}

// journeySteps is the drip campaign keyed by day since account creation.
// Days missing from the table send nothing.
var journeySteps = map[int]journeyStep{
	1:  {"Bem-vindo à sua jornada!", "Hoje começa uma nova rotina. Tome sua primeira cápsula e registre no calendário."},
	3:  {"Três dias de cuidado", "Você já está criando o hábito. Continue registrando suas cápsulas e sua água."},
	5:  {"Dica do dia 5", "Beber água ao longo do dia potencializa os resultados. Já bateu sua meta hoje?"},
	7:  {"Uma semana completa!", "Parabéns pela primeira semana. Que tal registrar seu peso e acompanhar o progresso?"},
	10: {"Dia 10: mantenha o ritmo", "A constância é o segredo. Confira suas receitas favoritas para hoje."},
	14: {"Duas semanas de jornada", "Metade do primeiro mês concluída. Veja como está sua evolução."},
	18: {"Dia 18: hora do detox", "Experimente um dos sucos detox do app para renovar a energia."},
	21: {"21 dias: hábito formado", "Dizem que 21 dias formam um hábito. Você chegou lá!"},
	23: {"Continue firme", "Seu corpo agradece cada dia de cuidado. Não esqueça da cápsula de hoje."},
	25: {"Reta final do mês", "Faltam poucos dias para completar o primeiro mês. Atualize seu progresso!"},
}

// JourneyDays returns the campaign days in ascending order.
func JourneyDays() []int {
	return []int{1, 3, 5, 7, 10, 14, 18, 21, 23, 25}
}

func (d *Dispatcher) journeyMessage(day int) (Payload, bool) {
	step, ok := journeySteps[day]
	if !ok {
		return Payload{}, false
	}
	return Payload{
		Title: step.title,
		Body:  step.body,
		Icon:  d.icon,
		Tag:   fmt.Sprintf("journey-day-%d", day),
		Data:  PayloadData{URL: "/dashboard"},
	}, true
}

func (d *Dispatcher) capsuleMessage(now time.Time) Payload {
	return Payload{
		Title: "Hora da sua cápsula",
		Body:  "Não esqueça de tomar sua cápsula agora e marcar no calendário.",
		Icon:  d.icon,
		Tag:   "capsule-" + now.Format("2006-01-02-1504"),
		Data:  PayloadData{URL: "/calendar"},
	}
}

func (d *Dispatcher) waterMessage(now time.Time) Payload {
	return Payload{
		Title: "Hora de beber água",
		Body:  "Já bebeu água? Registre seu copo e mantenha a hidratação em dia.",
		Icon:  d.icon,
		Tag:   "water-" + now.Format("2006-01-02-1504"),
		Data:  PayloadData{URL: "/water"},
	}
}

func (d *Dispatcher) summaryMessage(name string, stats model.DailyStats, now time.Time) Payload {
	return Payload{
		Title: "Seu resumo do dia",
		Body: fmt.Sprintf("%s, você está no dia %d do tratamento, com %d dias de cápsula registrados e %d%% da meta de água hoje.",
			name, stats.TreatmentDay, stats.CapsuleDays, WaterPercent(stats.WaterML, stats.WaterGoalML)),
		Icon: d.icon,
		Tag:  "daily-summary-" + now.Format(model.DateLayout),
		Data: PayloadData{URL: "/dashboard"},
	}
}

func (d *Dispatcher) imcMessage(now time.Time) Payload {
	return Payload{
		Title: "Atualize seu IMC",
		Body:  "Já faz uma semana desde o seu último registro. Que tal atualizar seu peso hoje?",
		Icon:  d.icon,
		Tag:   "imc-reminder-" + now.Format(model.DateLayout),
		Data:  PayloadData{URL: "/progress"},
	}
}
