package router

import (
	"strings"

	"github.com/debocaemboca/wabot/config"
)

const namePlaceholder = "{name}"

const defaultGreeting = "Olá! {name},\n\n" +
	"Sou Ana Clara represento a empresa DeBocaEmBoca. Você é o número 16 na fila, como posso ajudá-lo(a) hoje?\n\n" +
	"Não deixe de visitar e se inscrever em nosso Canal Youtube (https://www.youtube.com/@debocaemboca2025/videos?sub_confirmation=1)\n\n" +
	"E seguir nosso Instagram (https://www.instagram.com/debocaemboca2025/)\n\n" +
	"Por favor, digite o *número* da opção desejada abaixo:\n\n" +
	"1 - Ter um(a) Assistente Virtual Humanizado que atende seus clientes e qualifica LEADS com captação a partir de R$ 1.500,00 " +
	"ou ter os templates e arquivos de configurações prontos, mais nosso suporte remote pelo AnyDesk\n\n" +
	"2 - Tenha 3 consultas mensais por pequena assinatura mensal, que vão otimizar seu negócio usando Soluções com Inteligência Artificial,\n" +
	"Em diversas áreas\nEm CiberSegurança Famíliar, pequenas e Médias Empresas\nEm Marketing Digital\nEm Desenvolvimento de Aplicativos Mobile\n\n" +
	"3 - Pequeno Dossiê; Médio ou Completo sobre quem lhe prejudicou, deu golpe ou quem de você desconfia ou por assinatura mensal R$ 150,00, " +
	"com direito a 3 consultas mensais - Cada consulta adicional, R$ 100,00\n\n" +
	"4 - Quer divulgação personalizada como esta, entre em contato\n\n" +
	"5 - Outras perguntas"

const (
	signupLink = "Link para cadastro: https://sites.google.com/view/solucoes-em-ia\n\n"
	contactCTA = "Agende um contato: WhatsApp (12) 99.750.7961."
)

var defaultOptions = map[string]string{
	"1": signupLink +
		"Ter um(a) Assistente Virtual que atende seus clientes e qualifica LEADS com captação a partir de R$ 1.500,00\n\n" +
		"*Pagamento 50% Assistente Virtial:* R$ 750,00 MercadoPago Pix E-mail vendamais@gmail.com ou com cartão\n\n" +
		"Ter os templates e arquivos de configurações prontos, mais nosso suporte remote pelo AnyDesk\n\n" +
		"**Pagamento 50% pelos templates e arquivos de configurações prontos:\n\n" +
		"* R$ 1.00,00 MercadoPago Pix E-mail vendamais@gmail.com ou com cartão\n\n" + contactCTA,
	"2": signupLink +
		"Tenha 3 consultas mensais que vão otimizar seu negócio nas Soluções em IA e suporte via remoto através do AnyDesk " +
		"*Assinatura Mensal:* R$ 99,90 MercadoPago Pix E-mail vendamais@gmail.com ou com cartão\n\n" + contactCTA,
	"3": signupLink +
		"Saiba, antes que seja tarde, com quem se relaciona, quem lhe deu um golpe ou de quem você desconfia, " +
		"a partir de qualquer pequena informação ou detalhe, cpf, nome completo, endereço, cep, placa de carro e outros.\n" +
		"Pequeno Dossiê R$ 75,00.\nMédio Dossiê R$ 150;00.\nCompleto Dossiê R$ 300,00.\n" +
		" Assinatura Mensal R$ 150,00, com direito a 3 consultas mensais - Cada consulta adicional, R$ 100,00\n" +
		"Pix MercadoPago E-mail vendamais@gmail.com ou com cartão\n\n" + contactCTA,
	"4": contactCTA,
	"5": "Se tiver outras dúvidas ou precisar de mais informações, por favor, escreva aqui, " +
		"visite nosso site: https://sites.google.com/view/solucoes-em-ia/\n\n ou " + contactCTA,
}

const defaultInvalid = "Opção inválida."

// Menu holds the greeting and the replies for each numbered option.
type Menu struct {
	Greeting string
	Options  map[string]string
	Invalid  string
}

// DefaultMenu returns the built-in menu copy.
func DefaultMenu() Menu {
	opts := make(map[string]string, len(defaultOptions))
	for k, v := range defaultOptions {
		opts[k] = v
	}
	return Menu{Greeting: defaultGreeting, Options: opts, Invalid: defaultInvalid}
}

// WithOverrides replaces the texts set in cfg; options not mentioned keep their copy.
func (m Menu) WithOverrides(cfg config.MenuConfig) Menu {
	out := Menu{Greeting: m.Greeting, Invalid: m.Invalid, Options: make(map[string]string, len(m.Options))}
	for k, v := range m.Options {
		out.Options[k] = v
	}
	if cfg.Greeting != "" {
		out.Greeting = cfg.Greeting
	}
	if cfg.Invalid != "" {
		out.Invalid = cfg.Invalid
	}
	for k, v := range cfg.Options {
		if _, ok := out.Options[k]; ok && v != "" {
			out.Options[k] = v
		}
	}
	return out
}

// GreetingFor renders the greeting addressed by first name.
func (m Menu) GreetingFor(displayName string) string {
	return strings.ReplaceAll(m.Greeting, namePlaceholder, firstName(displayName))
}

// Reply returns the text for an option, or the invalid-option text.
func (m Menu) Reply(option string) string {
	if text, ok := m.Options[option]; ok {
		return text
	}
	return m.Invalid
}

func firstName(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return displayName
	}
	return fields[0]
}
