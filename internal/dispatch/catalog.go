package dispatch

// Template is one message variant before placeholder substitution.
// Placeholders use {name} syntax and must all resolve at dispatch time.
type Template struct {
	Title string
	Body  string
}

const defaultLanguage = "en"

// EventSessionCancelled is the catalog key for the cancellation notice
// pushed by the LISTEN/NOTIFY consumer. Not a windowed rule — fires once
// per event, so it carries no guard column.
const EventSessionCancelled = "session_cancelled"

// catalog holds all message variants per rule and language. Rules with
// UseRecency pick uniformly among variants not in the recipient's recency
// list; the rest pick uniformly among all variants.
var catalog = map[string]map[string][]Template{
	RuleReminder2hr: {
		"en": {
			{Title: "Starting in {hours} hours", Body: "Your {sport} session at {location} starts in {hours} hours. Time to get ready!"},
			{Title: "{sport} coming up", Body: "{hours} hours until your {sport} session at {location}."},
		},
		"es": {
			{Title: "Empieza en {hours} horas", Body: "Tu sesión de {sport} en {location} empieza en {hours} horas. ¡Ve preparándote!"},
			{Title: "{sport} a la vista", Body: "Quedan {hours} horas para tu sesión de {sport} en {location}."},
		},
	},
	RuleReminder1hr: {
		"en": {
			{Title: "One hour to go", Body: "Your {sport} session at {location} starts in {hours} hour. Pack your gear!"},
			{Title: "{sport} in {hours} hour", Body: "See you at {location} in {hours} hour."},
		},
		"es": {
			{Title: "Queda una hora", Body: "Tu sesión de {sport} en {location} empieza en {hours} hora. ¡Prepara tu equipo!"},
			{Title: "{sport} en {hours} hora", Body: "Nos vemos en {location} en {hours} hora."},
		},
	},
	RuleReminder15min: {
		"en": {
			{Title: "Starting soon!", Body: "Your {sport} session at {location} starts in {minutes} minutes."},
			{Title: "{minutes} minutes!", Body: "Your tribe is gathering at {location}. See you there!"},
		},
		"es": {
			{Title: "¡Empieza ya!", Body: "Tu sesión de {sport} en {location} empieza en {minutes} minutos."},
			{Title: "¡{minutes} minutos!", Body: "Tu tribu se está reuniendo en {location}. ¡Nos vemos allí!"},
		},
	},
	RuleFollowup: {
		"en": {
			{Title: "How did it go?", Body: "How was your {sport} session? Rate it and keep your tribe growing."},
			{Title: "Nice work out there", Body: "Hope your {sport} session went well. Tell your partners how it was!"},
		},
		"es": {
			{Title: "¿Qué tal fue?", Body: "¿Cómo fue tu sesión de {sport}? Valórala y haz crecer tu tribu."},
			{Title: "Buen trabajo", Body: "Esperamos que tu sesión de {sport} fuera genial. ¡Cuéntaselo a tus compañeros!"},
		},
	},
	RuleMorningMotivation: {
		"en": {
			{Title: "Good morning, athlete!", Body: "There are {count} sessions near you today. Grab your spot!"},
			{Title: "Rise and grind", Body: "{others} athletes are training today. Join them!"},
			{Title: "Today is the day", Body: "{sessions} sessions are happening today. Your tribe is waiting."},
			{Title: "Morning boost", Body: "Start strong: {count} sessions near you are still open."},
			{Title: "Make it count", Body: "One workout today beats zero. {count} sessions nearby to pick from."},
			{Title: "Your move", Body: "Somebody near you is training today. Actually, {others} somebodies."},
			{Title: "No excuses", Body: "The hardest part is showing up. {count} sessions near you make it easy."},
			{Title: "Fresh start", Body: "New day, new session. {sessions} to choose from today."},
			{Title: "Stronger together", Body: "Training alone is fine. Training with your tribe is better — {count} sessions near you."},
			{Title: "Future you says thanks", Body: "Book one of today's {sessions} sessions and make tonight's shower feel earned."},
		},
		"es": {
			{Title: "¡Buenos días, atleta!", Body: "Hay {count} sesiones cerca de ti hoy. ¡Reserva tu plaza!"},
			{Title: "Arriba y a entrenar", Body: "{others} deportistas entrenan hoy. ¡Únete!"},
			{Title: "Hoy es el día", Body: "Hoy hay {sessions} sesiones. Tu tribu te espera."},
			{Title: "Impulso matutino", Body: "Empieza fuerte: {count} sesiones cerca de ti siguen abiertas."},
			{Title: "Que cuente", Body: "Un entrenamiento hoy es mejor que ninguno. {count} sesiones cerca para elegir."},
			{Title: "Te toca", Body: "Alguien cerca de ti entrena hoy. De hecho, {others} personas."},
			{Title: "Sin excusas", Body: "Lo más difícil es presentarse. {count} sesiones cerca te lo ponen fácil."},
			{Title: "Borrón y cuenta nueva", Body: "Día nuevo, sesión nueva. Hoy hay {sessions} para elegir."},
			{Title: "Más fuertes juntos", Body: "Entrenar solo está bien. Con tu tribu, mejor: {count} sesiones cerca de ti."},
			{Title: "Tu yo del futuro te lo agradecerá", Body: "Reserva una de las {sessions} sesiones de hoy y gánate la ducha de esta noche."},
		},
	},
	RuleWeeklyRecap: {
		"en": {
			{Title: "Your week in review", Body: "You trained {sessions} times for {hours} hours and met {new_connections} new partners. Next goal: {next_goal} sessions!"},
			{Title: "Week {streak} of your streak", Body: "{sessions} sessions, {hours} hours, {partners} training partners. Keep the streak alive next week!"},
		},
		"es": {
			{Title: "Tu semana en resumen", Body: "Entrenaste {sessions} veces durante {hours} horas y conociste a {new_connections} nuevos compañeros. Próxima meta: ¡{next_goal} sesiones!"},
			{Title: "Semana {streak} de tu racha", Body: "{sessions} sesiones, {hours} horas, {partners} compañeros de entrenamiento. ¡Mantén la racha la próxima semana!"},
		},
	},
	RuleInactivityNudge: {
		"en": {
			{Title: "Your tribe misses you", Body: "It's been {days} days since your last session. Jump back in!"},
			{Title: "Still stretching?", Body: "{days} days without training. There's a session near you with your name on it."},
			{Title: "Comeback time", Body: "Rest is part of training — but {days} days? Your tribe is waiting."},
		},
		"es": {
			{Title: "Tu tribu te echa de menos", Body: "Han pasado {days} días desde tu última sesión. ¡Vuelve al ruedo!"},
			{Title: "¿Sigues estirando?", Body: "{days} días sin entrenar. Hay una sesión cerca de ti con tu nombre."},
			{Title: "Hora de volver", Body: "Descansar es parte del entrenamiento, pero ¿{days} días? Tu tribu te espera."},
		},
	},
	EventSessionCancelled: {
		"en": {
			{Title: "Session cancelled", Body: "Your {sport} session at {location} has been cancelled."},
		},
		"es": {
			{Title: "Sesión cancelada", Body: "Tu sesión de {sport} en {location} ha sido cancelada."},
		},
	},
}

// variants returns the catalog for a rule in the given language, falling
// back to English for unknown or missing language codes.
func variants(rule, language string) []Template {
	byLang, ok := catalog[rule]
	if !ok {
		return nil
	}
	if v, ok := byLang[language]; ok && len(v) > 0 {
		return v
	}
	return byLang[defaultLanguage]
}
