package rag

import (
	"fmt"
	"strings"
)

// NoInformationAnswer is the phrase the model must use when the context
// does not cover the question.
const NoInformationAnswer = "No dispongo de esa información en las noticias recientes"

const groundedPromptTemplate = `Eres un asistente especializado en el Club Balonmano Zamora.

CONTEXTO (información verificada y reciente):
%s

PREGUNTA DEL USUARIO:
%s

INSTRUCCIONES IMPORTANTES:
1. Basa tu respuesta EXCLUSIVAMENTE en el contexto proporcionado
2. Si la información solicitada no está en el contexto, responde: "` + NoInformationAnswer + `"
3. Cita la fecha de la noticia al mencionar información específica
4. Si hay información contradictoria, menciona ambas versiones
5. Sé preciso con datos numéricos (resultados, fechas, nombres)
6. Mantén un tono profesional pero cercano

RESPUESTA:`

// BuildGroundedPrompt fills the answer template with the retrieved context
// and the user's question. No model call happens here.
func BuildGroundedPrompt(context, question string) string {
	return fmt.Sprintf(groundedPromptTemplate, context, question)
}

// BuildContext renders hits as "[fecha - categoria] text" blocks separated by
// a blank line, keeping the search order.
func BuildContext(hits []SearchHit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, fmt.Sprintf("[%s - %s] %s", h.Metadata.Date, h.Metadata.Category, h.Text))
	}
	return strings.Join(parts, "\n\n")
}
