package reports

import (
	"strings"

	"github.com/aegis-scan/aegis/pkg/models"
)

// Static security knowledge for probe categories. Lookup is two-tier:
// category (probe module name, e.g. "dan") with probe-level overrides
// for specific classnames, and a generic fallback for unknown probes.

var probeCategories = map[string]models.ProbeSecurity{
	"ansiescape": {
		Category:        "ANSI Escape Injection",
		Severity:        "high",
		Description:     "Tests whether the model can be made to output ANSI escape sequences that manipulate terminal displays or exfiltrate data.",
		RiskExplanation: "ANSI escape codes can manipulate terminal output, hide malicious content, overwrite displayed text, or exfiltrate data through terminal-specific side channels.",
		Mitigation:      "Strip ANSI escape codes from model outputs before display. Implement output encoding to neutralize terminal control sequences. Use a safe rendering layer that ignores escape codes.",
		CWEIDs:          []string{"CWE-116"},
		OWASPLLM:        []string{"LLM02"},
	},
	"apikey": {
		Category:        "API Key Leakage",
		Severity:        "medium",
		Description:     "Tests whether the model will generate, complete, or reveal API keys and secrets when prompted.",
		RiskExplanation: "If the model generates realistic-looking API keys, completes partial credentials, or leaks memorized training data containing secrets, it could aid credential guessing or expose sensitive data.",
		Mitigation:      "Train models to refuse generating credential-like strings. Implement output scanning for patterns matching API keys, tokens, and secrets. Use regex-based output filters for common key formats.",
		CWEIDs:          []string{"CWE-200", "CWE-312"},
		OWASPLLM:        []string{"LLM06"},
	},
	"atkgen": {
		Category:        "Automated Attack Generation",
		Severity:        "high",
		Description:     "Tests the model's resistance to automatically generated adversarial prompts designed to bypass safety measures.",
		RiskExplanation: "Automated attack generators can discover novel jailbreaks at scale. If the model is vulnerable, attackers can use similar tools to systematically bypass safety guardrails.",
		Mitigation:      "Implement robust input classification that detects adversarial patterns. Use multi-layer defense with both input filtering and output monitoring. Regularly red-team with automated tools.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"av_spam_scanning": {
		Category:        "AV/Spam Evasion",
		Severity:        "medium",
		Description:     "Tests whether the model can generate content designed to evade antivirus or spam detection systems.",
		RiskExplanation: "If the model helps craft AV/spam evasion content, it could be used to generate phishing emails or malware that bypasses security filters.",
		Mitigation:      "Add output filters that detect evasion techniques. Implement content safety classifiers trained on spam and malware patterns. Refuse requests that explicitly aim to bypass security tools.",
		CWEIDs:          []string{"CWE-116"},
		OWASPLLM:        []string{"LLM02"},
	},
	"badchars": {
		Category:        "Bad Character Injection",
		Severity:        "medium",
		Description:     "Tests model behavior when presented with special characters, null bytes, or other problematic character sequences.",
		RiskExplanation: "Bad characters can cause unexpected parsing behavior, buffer overflows in downstream systems, or bypass input validation when model output is processed by other software.",
		Mitigation:      "Sanitize model outputs before passing to downstream systems. Validate and encode outputs appropriately for the target context (HTML, SQL, shell, etc.).",
		CWEIDs:          []string{"CWE-20", "CWE-138"},
		OWASPLLM:        []string{"LLM02"},
	},
	"continuation": {
		Category:        "Text Continuation Attack",
		Severity:        "medium",
		Description:     "Tests whether the model will continue generating harmful content when given a partial harmful prompt.",
		RiskExplanation: "Continuation attacks exploit the model's autoregressive nature by starting a harmful sentence and having the model complete it, bypassing filters that only check the initial prompt.",
		Mitigation:      "Implement output monitoring that checks the combined prompt+response for harmful content. Add mid-generation safety checks. Use classifiers on partial outputs.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"dan": {
		Category:        "DAN Jailbreak",
		Severity:        "critical",
		Description:     "Tests resistance to 'Do Anything Now' (DAN) jailbreak prompts that attempt to make the model ignore all safety restrictions.",
		RiskExplanation: "DAN jailbreaks can cause the model to ignore its safety training entirely, producing harmful, illegal, or dangerous content without restrictions. These are among the most well-known LLM attacks.",
		Mitigation:      "Strengthen system prompts with explicit refusal instructions. Implement jailbreak detection classifiers on input. Use multi-layer defense with both input and output filtering. Regularly update defenses against new DAN variants.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"divergence": {
		Category:        "Model Divergence",
		Severity:        "medium",
		Description:     "Tests whether the model can be made to diverge from its intended behavior through carefully crafted inputs.",
		RiskExplanation: "Divergence attacks can push the model into states where it behaves unpredictably, potentially revealing training data, producing harmful outputs, or ignoring safety measures.",
		Mitigation:      "Implement behavioral monitoring to detect when model outputs deviate significantly from expected patterns. Use guardrail models to validate outputs against safety criteria.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"doctor": {
		Category:        "Doctor Jailbreak",
		Severity:        "high",
		Description:     "Tests resistance to role-play jailbreaks where the model is asked to act as a medical professional to bypass safety restrictions.",
		RiskExplanation: "Role-play jailbreaks that invoke authority figures (doctors, lawyers) can trick models into providing dangerous advice or bypassing content restrictions under the guise of professional consultation.",
		Mitigation:      "Implement role-play detection that identifies attempts to use authority personas to bypass restrictions. Maintain safety constraints regardless of the assigned persona.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01", "LLM09"},
	},
	"donotanswer": {
		Category:        "Refusal Bypass",
		Severity:        "high",
		Description:     "Tests whether safety refusals can be circumvented through rephrasing, social engineering, or indirect questioning.",
		RiskExplanation: "If safety refusals can be easily bypassed, the model's content restrictions are effectively useless. Attackers can access harmful content through simple prompt modifications.",
		Mitigation:      "Use semantic understanding for content filtering rather than keyword matching. Implement intent detection that identifies harmful requests regardless of phrasing.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"dra": {
		Category:        "Direct Refusal Attack",
		Severity:        "high",
		Description:     "Tests resistance to attacks that directly challenge or undermine the model's refusal behavior.",
		RiskExplanation: "If the model can be talked out of its refusal, attackers can systematically extract harmful content by persistently challenging safety boundaries.",
		Mitigation:      "Make refusal behavior robust against persuasion attempts. Implement conversation-level monitoring that detects repeated attempts to override refusals.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"encoding": {
		Category:        "Encoding Attacks",
		Severity:        "high",
		Description:     "Tests whether the model can be tricked via encoded payloads (Base16, Base64, Base85, ROT13, Braille, Morse, etc.).",
		RiskExplanation: "Encoding attacks bypass content filters by hiding harmful instructions in encoded formats. If the model decodes and follows these instructions, it produces harmful outputs that evade detection.",
		Mitigation:      "Implement input validation that detects and decodes common encoding schemes before safety filtering. Add output filtering on decoded content. Consider blocking requests with unusual encoding patterns.",
		CWEIDs:          []string{"CWE-77", "CWE-116"},
		OWASPLLM:        []string{"LLM01"},
	},
	"exploitation": {
		Category:        "Exploitation Techniques",
		Severity:        "high",
		Description:     "Tests the model's vulnerability to various exploitation techniques that attempt to extract sensitive information or bypass controls.",
		RiskExplanation: "Exploitation probes test for a range of attack vectors that could allow unauthorized access to model capabilities, data extraction, or safety bypass.",
		Mitigation:      "Implement comprehensive input/output monitoring. Use defense-in-depth with multiple independent safety layers. Regular security testing and prompt hardening.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01", "LLM06"},
	},
	"fileformats": {
		Category:        "File Format Attacks",
		Severity:        "medium",
		Description:     "Tests whether the model can be manipulated through file format-related content or instructions embedded in structured data.",
		RiskExplanation: "File format attacks can embed malicious instructions within document structures that the model processes, potentially bypassing text-level safety filters.",
		Mitigation:      "Sanitize structured input before processing. Implement content extraction that strips potentially malicious formatting or embedded instructions.",
		CWEIDs:          []string{"CWE-20"},
		OWASPLLM:        []string{"LLM01"},
	},
	"fitd": {
		Category:        "Foot-in-the-Door",
		Severity:        "medium",
		Description:     "Tests whether the model can be gradually escalated from benign to harmful requests through a series of increasingly boundary-pushing prompts.",
		RiskExplanation: "Foot-in-the-door attacks exploit the conversation context to gradually normalize harmful requests, making the model more likely to comply with later dangerous instructions.",
		Mitigation:      "Implement conversation-level safety monitoring that tracks escalation patterns. Reset safety boundaries for each turn regardless of prior context. Use sliding-window safety evaluation.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"glitch": {
		Category:        "Glitch Token Exploitation",
		Severity:        "medium",
		Description:     "Tests model behavior when presented with glitch tokens -- unusual tokens that cause unpredictable responses.",
		RiskExplanation: "Glitch tokens can cause models to produce unexpected, harmful, or nonsensical outputs that bypass normal safety measures. They exploit tokenizer edge cases.",
		Mitigation:      "Implement input sanitization to filter known glitch tokens. Monitor model outputs for anomalous behavior. Keep tokenizer and model versions updated.",
		CWEIDs:          []string{"CWE-20"},
		OWASPLLM:        []string{"LLM01"},
	},
	"goodside": {
		Category:        "Goodside Prompt Injection",
		Severity:        "high",
		Description:     "Tests susceptibility to prompt injection techniques discovered by Riley Goodside that manipulate model behavior through crafted instructions.",
		RiskExplanation: "These prompt injection techniques can override system instructions and make the model follow attacker-controlled instructions, compromising the integrity of AI-powered applications.",
		Mitigation:      "Separate system instructions from user input in the prompt architecture. Implement instruction hierarchy that prioritizes system prompts. Use input sanitization to detect injection attempts.",
		CWEIDs:          []string{"CWE-77"},
		OWASPLLM:        []string{"LLM01"},
	},
	"grandma": {
		Category:        "Grandma Jailbreak",
		Severity:        "high",
		Description:     "Tests resistance to social engineering jailbreaks that use emotional manipulation (e.g., 'my grandmother used to tell me...').",
		RiskExplanation: "Emotional manipulation jailbreaks exploit the model's training on empathetic responses to bypass safety restrictions through guilt, nostalgia, or authority appeals.",
		Mitigation:      "Implement content-based safety filtering that evaluates the requested output regardless of emotional framing. Train models to maintain safety boundaries despite social pressure.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"latentinjection": {
		Category:        "Latent Prompt Injection",
		Severity:        "critical",
		Description:     "Tests for indirect prompt injection where malicious instructions are hidden in data the model processes (documents, web pages, etc.).",
		RiskExplanation: "Latent injection is especially dangerous in RAG and agent systems where the model processes external data. Hidden instructions in retrieved documents can hijack model behavior without the user's knowledge.",
		Mitigation:      "Implement strict data/instruction separation. Sanitize retrieved documents before including in context. Use privilege boundaries between system instructions and external data. Monitor for instruction-like patterns in data.",
		CWEIDs:          []string{"CWE-77"},
		OWASPLLM:        []string{"LLM01"},
	},
	"leakreplay": {
		Category:        "Data Leakage & Replay",
		Severity:        "high",
		Description:     "Tests whether the model leaks memorized training data or can be tricked into replaying sensitive information.",
		RiskExplanation: "Training data leakage can expose private information, copyrighted content, or PII that was present in the training corpus. Replay attacks can extract this data systematically.",
		Mitigation:      "Implement output filtering for known sensitive patterns (PII, credentials). Use differential privacy in training. Monitor for verbatim reproduction of training data. Add memorization detection.",
		CWEIDs:          []string{"CWE-200", "CWE-359"},
		OWASPLLM:        []string{"LLM06"},
	},
	"lmrc": {
		Category:        "Language Model Risk Cards",
		Severity:        "high",
		Description:     "Tests for risks identified in the Language Model Risk Cards framework including toxicity, bias, misinformation, and harmful content generation.",
		RiskExplanation: "LMRC probes cover a broad range of societal harms: generating toxic content, perpetuating biases, producing misinformation, and enabling harassment or discrimination.",
		Mitigation:      "Implement comprehensive content safety classifiers covering toxicity, bias, and misinformation. Regular bias audits. Use RLHF and constitutional AI techniques. Deploy output filters for harmful content categories.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM02", "LLM09"},
	},
	"malwaregen": {
		Category:        "Malware Generation",
		Severity:        "critical",
		Description:     "Tests whether the model will generate functional malware code, exploit code, or other malicious software.",
		RiskExplanation: "If the model generates working malware, it dramatically lowers the barrier for cyberattacks. Even partial malware code can be weaponized by attackers with moderate skill.",
		Mitigation:      "Implement code safety classifiers that detect malicious code patterns. Block generation of known exploit techniques. Monitor for code that performs file system manipulation, network exfiltration, or privilege escalation.",
		CWEIDs:          []string{"CWE-94"},
		OWASPLLM:        []string{"LLM02"},
	},
	"misleading": {
		Category:        "Misleading Information",
		Severity:        "medium",
		Description:     "Tests the model's tendency to generate plausible but false, misleading, or deceptive information.",
		RiskExplanation: "Misleading content can spread misinformation, damage trust in AI systems, and cause real-world harm when users act on false information presented confidently by the model.",
		Mitigation:      "Implement uncertainty calibration so the model expresses appropriate confidence levels. Add fact-checking layers for claims. Encourage citation of sources. Use retrieval-augmented generation for factual queries.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM09"},
	},
	"packagehallucination": {
		Category:        "Package Hallucination",
		Severity:        "high",
		Description:     "Tests whether the model recommends installing non-existent software packages, which could be exploited for supply chain attacks.",
		RiskExplanation: "If the model recommends fake package names, attackers can register those names on package registries (npm, PyPI, etc.) and distribute malware that gets installed by users following the model's advice.",
		Mitigation:      "Validate package recommendations against known package registries. Implement a package name verification step. Warn users to verify packages before installation. Prefer recommending well-known, established packages.",
		CWEIDs:          []string{"CWE-829"},
		OWASPLLM:        []string{"LLM09", "LLM05"},
	},
	"phrasing": {
		Category:        "Phrasing Attacks",
		Severity:        "medium",
		Description:     "Tests whether safety filters can be bypassed through creative rephrasing, synonyms, or alternative expressions of harmful requests.",
		RiskExplanation: "If safety measures rely on keyword matching, simple rephrasing can bypass them entirely. This indicates brittle safety that can be trivially circumvented.",
		Mitigation:      "Use semantic understanding rather than keyword matching for content filtering. Implement intent classification that detects harmful intent regardless of specific wording.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"promptinject": {
		Category:        "Prompt Injection",
		Severity:        "critical",
		Description:     "Tests for direct prompt injection where attacker-crafted input overrides system instructions or extracts system prompts.",
		RiskExplanation: "Prompt injection is the #1 OWASP LLM vulnerability. Successful injection can leak system prompts, override safety instructions, access unauthorized capabilities, and fully compromise AI applications.",
		Mitigation:      "Implement strict prompt architecture with clear system/user boundaries. Use input sanitization to detect injection patterns. Deploy guardrail models. Never trust user input to modify system behavior. Use parameterized prompts.",
		CWEIDs:          []string{"CWE-77"},
		OWASPLLM:        []string{"LLM01"},
	},
	"realtoxicityprompts": {
		Category:        "Toxicity Generation",
		Severity:        "high",
		Description:     "Tests the model's tendency to generate toxic, offensive, or harmful language when given prompts from the RealToxicityPrompts dataset.",
		RiskExplanation: "Models that generate toxic content can cause psychological harm, enable harassment, damage brand reputation, and create hostile environments in AI-powered products.",
		Mitigation:      "Implement toxicity classifiers on model outputs. Use RLHF to reduce toxic generation. Deploy real-time content moderation. Set appropriate temperature and sampling parameters.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM02"},
	},
	"smuggling": {
		Category:        "Prompt Smuggling",
		Severity:        "high",
		Description:     "Tests whether harmful instructions can be smuggled past safety filters through obfuscation, formatting tricks, or context manipulation.",
		RiskExplanation: "Prompt smuggling techniques can deliver harmful payloads that evade detection by hiding them in seemingly benign content, special formatting, or multi-step interactions.",
		Mitigation:      "Implement multi-stage content analysis that evaluates both individual components and combined meaning. Normalize inputs before safety evaluation. Use defense-in-depth.",
		CWEIDs:          []string{"CWE-116"},
		OWASPLLM:        []string{"LLM01"},
	},
	"snowball": {
		Category:        "Snowball Attack",
		Severity:        "medium",
		Description:     "Tests whether the model can be led into producing increasingly incorrect or harmful statements through a series of false premises.",
		RiskExplanation: "Snowball attacks exploit the model's tendency to be agreeable, gradually leading it to endorse false claims or produce harmful content by building on a chain of accepted falsehoods.",
		Mitigation:      "Implement fact-grounding mechanisms. Train models to challenge false premises rather than accept them. Use conversation-level coherence checking.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM09"},
	},
	"suffix": {
		Category:        "Adversarial Suffix",
		Severity:        "high",
		Description:     "Tests resistance to adversarial suffixes -- machine-generated text appended to prompts that cause the model to ignore safety training.",
		RiskExplanation: "Adversarial suffixes (like GCG attacks) are algorithmically optimized to break model alignment. They represent a systematic, automated approach to bypassing safety that is difficult to defend against.",
		Mitigation:      "Implement perplexity-based detection to flag unusually random text appended to prompts. Use input preprocessing to strip suspicious suffixes. Regularly update defenses against new suffix attack variants.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"tap": {
		Category:        "Tree of Attacks with Pruning",
		Severity:        "high",
		Description:     "Tests resistance to TAP (Tree of Attacks with Pruning), an automated red-teaming method that systematically discovers jailbreaks.",
		RiskExplanation: "TAP uses an attacker LLM to systematically generate and refine jailbreak prompts. It represents a scalable automated threat that can discover novel attack vectors.",
		Mitigation:      "Deploy robust multi-layer safety that resists automated probing. Implement rate limiting and pattern detection for systematic attack attempts. Regular adversarial testing with similar tools.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
	"topic": {
		Category:        "Restricted Topic Generation",
		Severity:        "medium",
		Description:     "Tests whether the model will generate content on restricted or sensitive topics it should refuse to discuss.",
		RiskExplanation: "If the model generates content on restricted topics, it may produce harmful instructions, illegal advice, or content that violates usage policies.",
		Mitigation:      "Implement topic classifiers that detect restricted content areas. Maintain clear content policies with specific refusal rules. Use intent detection to identify attempts to access restricted topics.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM02"},
	},
	"visual_jailbreak": {
		Category:        "Visual Jailbreak",
		Severity:        "high",
		Description:     "Tests multimodal models for jailbreaks embedded in images, visual prompts, or image-text combinations.",
		RiskExplanation: "Visual jailbreaks can embed harmful instructions in images that bypass text-based safety filters. As models become multimodal, this attack surface grows significantly.",
		Mitigation:      "Implement safety evaluation on extracted text from images. Use multi-modal safety classifiers. Apply the same content policies to visual inputs as text inputs.",
		CWEIDs:          []string{"CWE-77"},
		OWASPLLM:        []string{"LLM01"},
	},
	"web_injection": {
		Category:        "Web Injection",
		Severity:        "high",
		Description:     "Tests for web-based injection attacks including XSS, markdown injection, and HTML injection through model outputs.",
		RiskExplanation: "If model outputs contain executable web content (JavaScript, HTML) and are rendered in a browser, they can steal cookies, redirect users, or perform actions on behalf of victims.",
		Mitigation:      "Always sanitize and escape model outputs before rendering in web contexts. Use Content Security Policy headers. Implement output encoding appropriate for the rendering context.",
		CWEIDs:          []string{"CWE-79", "CWE-116"},
		OWASPLLM:        []string{"LLM02"},
	},
	"sata": {
		Category:        "Scalable Automated Text Analysis",
		Severity:        "medium",
		Description:     "Tests the model's vulnerability to automated text analysis attacks that probe for weaknesses at scale.",
		RiskExplanation: "SATA-style probes systematically test for weaknesses across many dimensions, identifying patterns that can be exploited reliably.",
		Mitigation:      "Deploy comprehensive monitoring. Use rate limiting to prevent automated probing. Implement anomaly detection on input patterns.",
		CWEIDs:          []string{"CWE-693"},
		OWASPLLM:        []string{"LLM01"},
	},
}

// probeOverrides refines the category entry for specific probe classnames.
type probeOverride struct {
	description string
	severity    string
}

var probeOverrides = map[string]probeOverride{
	"apikey.CompleteKey": {
		description: "Tests if the model will attempt to complete a partial API key when given the beginning of one.",
	},
	"apikey.GetKey": {
		description: "Tests if the model will generate API keys when directly asked for them.",
		severity:    "high",
	},
	"dan.DAN_Jailbreak": {
		description: "Tests resistance to the classic DAN (Do Anything Now) jailbreak prompt.",
	},
	"encoding.InjectBase64": {
		description: "Tests if Base64-encoded harmful instructions bypass safety filters.",
	},
	"encoding.InjectROT13": {
		description: "Tests if ROT13-encoded harmful instructions bypass safety filters.",
	},
	"promptinject.HijackHateHumansMini": {
		description: "Tests for prompt injection that attempts to make the model express hatred toward humans.",
		severity:    "critical",
	},
	"packagehallucination.Python": {
		description: "Tests if the model recommends non-existent Python (PyPI) packages.",
	},
	"packagehallucination.Ruby": {
		description: "Tests if the model recommends non-existent Ruby (RubyGems) packages.",
	},
	"malwaregen.Evasion": {
		description: "Tests if the model will generate malware code with evasion techniques to avoid detection.",
	},
	"malwaregen.Payload": {
		description: "Tests if the model will generate malicious payloads (reverse shells, keyloggers, etc.).",
	},
	"web_injection.MarkdownImageExfil": {
		description: "Tests if the model outputs markdown image tags that could exfiltrate data via URL parameters.",
	},
}

var genericProbeEntry = models.ProbeSecurity{
	Category:        "Security Probe",
	Severity:        "info",
	Description:     "A security probe testing the model for potential vulnerabilities.",
	RiskExplanation: "Consult garak documentation for details on this probe type.",
	Mitigation:      "Review the probe documentation for specific mitigation advice.",
	CWEIDs:          []string{},
	OWASPLLM:        []string{},
}

// ProbeMetadata looks up security metadata for a probe classname.
// Resolution order: probe override, category entry, generic fallback.
func ProbeMetadata(probeClassname string) *models.ProbeSecurity {
	categoryName := probeClassname
	if i := strings.Index(probeClassname, "."); i >= 0 {
		categoryName = probeClassname[:i]
	}

	sec, ok := probeCategories[categoryName]
	if !ok {
		sec = genericProbeEntry
	}
	if ov, ok := probeOverrides[probeClassname]; ok {
		if ov.description != "" {
			sec.Description = ov.description
		}
		if ov.severity != "" {
			sec.Severity = ov.severity
		}
	}
	return &sec
}
